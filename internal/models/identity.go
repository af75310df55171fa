package models

import (
	"fmt"
	"strings"
)

// Channel names used as the identity prefix
const (
	ChannelTelegram  = "telegram"
	ChannelMessenger = "facebookid"
	ChannelWhatsApp  = "whatsapp"
)

// UserIdentity is the per (channel, user) key of a session. It doubles as the
// catalog cart id, so its format must stay stable: "{channel}_{userId}".
type UserIdentity string

// NewUserIdentity builds the identity for a user of a channel
func NewUserIdentity(channel, userID string) UserIdentity {
	return UserIdentity(fmt.Sprintf("%s_%s", channel, userID))
}

// Channel returns the channel prefix
func (u UserIdentity) Channel() string {
	channel, _, _ := strings.Cut(string(u), "_")
	return channel
}

// UserID returns the channel-local user id (the chat address)
func (u UserIdentity) UserID() string {
	_, id, found := strings.Cut(string(u), "_")
	if !found {
		return ""
	}
	return id
}

// CartID is the catalog cart identifier for this user
func (u UserIdentity) CartID() string {
	return string(u)
}

func (u UserIdentity) String() string {
	return string(u)
}
