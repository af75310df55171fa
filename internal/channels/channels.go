// Package channels connects the conversation engine to messaging platforms.
// Each adapter turns platform payloads into models.Inbound and renders
// models.Instruction back into platform messages.
package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// Dispatcher runs an inbound event through the conversation engine
type Dispatcher interface {
	Dispatch(ctx context.Context, in models.Inbound) (models.Reply, error)
}

// Sender delivers instructions to a chat address on one platform
type Sender interface {
	Deliver(ctx context.Context, chatAddress string, instructions []models.Instruction) error
}

// Registry routes deliveries to the sender of the identity's channel
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// Register adds the sender of a channel
func (r *Registry) Register(channel string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = s
}

// Deliver sends instructions to a user on the user's channel
func (r *Registry) Deliver(ctx context.Context, id models.UserIdentity, chatAddress string, instructions []models.Instruction) error {
	r.mu.RLock()
	s, ok := r.senders[id.Channel()]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no sender for channel %q", id.Channel())
	}
	return s.Deliver(ctx, chatAddress, instructions)
}

// Channels lists the registered channel names
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// splitByRecipient groups instructions by destination, keeping order.
// An empty Recipient means the user being served.
func splitByRecipient(defaultRecipient string, instructions []models.Instruction) ([]string, map[string][]models.Instruction) {
	var order []string
	groups := make(map[string][]models.Instruction)
	for _, ins := range instructions {
		to := ins.Recipient
		if to == "" {
			to = defaultRecipient
		}
		if _, seen := groups[to]; !seen {
			order = append(order, to)
		}
		groups[to] = append(groups[to], ins)
	}
	return order, groups
}

// invoiceText renders an invoice for platforms without native payments
func invoiceText(inv *models.Invoice) string {
	var b strings.Builder
	b.WriteString(inv.Title)
	if inv.Description != "" {
		b.WriteString("\n")
		b.WriteString(inv.Description)
	}
	var total int64
	for _, p := range inv.Prices {
		fmt.Fprintf(&b, "\n%s: %s %s", p.Label, formatMinor(p.Amount), inv.Currency)
		total += p.Amount
	}
	if len(inv.Prices) > 1 {
		fmt.Fprintf(&b, "\nTotal: %s %s", formatMinor(total), inv.Currency)
	}
	return b.String()
}

func formatMinor(amount int64) string {
	if amount%100 == 0 {
		return fmt.Sprintf("%d", amount/100)
	}
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

func flattenButtons(rows [][]models.Button) []models.Button {
	var out []models.Button
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

// truncateRunes cuts s to n runes, the unit platforms count titles in
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
