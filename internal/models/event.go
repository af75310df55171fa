package models

import "fmt"

// InboundEvent is the channel-agnostic representation of a user action.
// The set of implementations is closed: TextMessage, Location, Callback, Command.
type InboundEvent interface {
	isInboundEvent()
	// Describe renders the event for logs
	Describe() string
}

// TextMessage is free text typed by the user
type TextMessage struct {
	Text string
}

// Location is a shared geo position
type Location struct {
	Lat float64
	Lon float64
}

// Callback is a button press carrying its payload
type Callback struct {
	Payload string
}

// Command is a slash command without the leading slash, e.g. "start"
type Command struct {
	Name string
}

func (TextMessage) isInboundEvent() {}
func (Location) isInboundEvent()    {}
func (Callback) isInboundEvent()    {}
func (Command) isInboundEvent()     {}

func (e TextMessage) Describe() string { return fmt.Sprintf("text(%q)", e.Text) }
func (e Location) Describe() string    { return fmt.Sprintf("location(%.5f,%.5f)", e.Lat, e.Lon) }
func (e Callback) Describe() string    { return fmt.Sprintf("callback(%q)", e.Payload) }
func (e Command) Describe() string     { return fmt.Sprintf("command(/%s)", e.Name) }

// Inbound is a normalized event together with who sent it
type Inbound struct {
	Identity UserIdentity
	// ChatAddress is where replies go (telegram chat id, PSID, phone number)
	ChatAddress string
	Event       InboundEvent
	// CallbackID lets adapters acknowledge a button press, when the platform has one
	CallbackID string
}
