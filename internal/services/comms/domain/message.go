package domain

import (
	"strings"
	"time"
)

// Category classifies a parent communication for opt-in handling.
type Category string

const (
	CategoryGeneral    Category = "general"
	CategoryAcademic   Category = "academic"
	CategoryAttendance Category = "attendance"
	CategoryBilling    Category = "billing"
	CategoryEvent      Category = "event"
)

// Valid reports whether c is a known message category.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryAcademic, CategoryAttendance, CategoryBilling, CategoryEvent:
		return true
	}
	return false
}

// NormalizeCategory normalizes a caller-provided category token.
func NormalizeCategory(raw string) Category {
	return Category(strings.ToLower(strings.TrimSpace(raw)))
}

// Message priorities. PriorityUrgent overrides contact category opt-outs.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

// Message is one parent communication moving through the delivery lifecycle.
// Subject and body are immutable once the message leaves draft/pending.
type Message struct {
	ID               string
	Category         Category
	ContactID        string
	Subject          string
	Body             string
	Priority         int
	RequiresApproval bool
	ApprovedBy       string
	ApprovedAt       *time.Time
	State            State
	DeliveryCycle    int
	CreatedBy        string
	ScheduledFor     time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CancelledAt      *time.Time
}

// Cancelled reports whether the message was archived out of the pipeline.
func (m Message) Cancelled() bool {
	return m.CancelledAt != nil
}

// ContentEditable reports whether subject/body may still change.
func (m Message) ContentEditable() bool {
	return m.State == StateDraft || m.State == StatePending
}

// Contact is the delivery profile for one message recipient: which channels
// carry an address, which categories the contact opted out of, and when the
// contact was last reached successfully.
type Contact struct {
	ID              string
	PushToken       string
	SMSNumber       string
	EmailAddress    string
	OptOuts         map[Category]bool
	LastContactedAt *time.Time
}

// Address returns the contact's address for one channel, empty when the
// channel is not configured.
func (c Contact) Address(channel Channel) string {
	switch channel {
	case ChannelPush:
		return c.PushToken
	case ChannelSMS:
		return c.SMSNumber
	case ChannelEmail:
		return c.EmailAddress
	}
	return ""
}

// AvailableChannels returns the channels that may carry a message of the
// given category and priority. A channel requires a configured address; a
// category opt-out removes every channel unless the message is urgent.
func (c Contact) AvailableChannels(category Category, priority int) map[Channel]bool {
	available := make(map[Channel]bool, len(channelPriority))
	if c.OptOuts[category] && priority < PriorityUrgent {
		return available
	}
	for _, channel := range channelPriority {
		if strings.TrimSpace(c.Address(channel)) != "" {
			available[channel] = true
		}
	}
	return available
}

// DeliveryRecord is the derived delivery aggregate for one message across the
// current cycle's queue entries.
type DeliveryRecord struct {
	MessageID      string
	TotalAttempts  int
	CurrentChannel Channel
	FinalState     State
}
