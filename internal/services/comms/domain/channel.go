package domain

// Channel identifies one delivery medium for parent communications.
type Channel string

const (
	// ChannelPush is the primary channel: the in-app push inbox.
	ChannelPush Channel = "push"
	// ChannelSMS is the secondary channel.
	ChannelSMS Channel = "sms"
	// ChannelEmail is the tertiary channel.
	ChannelEmail Channel = "email"
)

// MaxAttemptsPerChannel bounds delivery attempts on one channel within a
// delivery cycle: the initial attempt plus one retry.
const MaxAttemptsPerChannel = 2

// channelPriority is the fixed, total trial order. No channel is ever tried
// out of this order.
var channelPriority = []Channel{ChannelPush, ChannelSMS, ChannelEmail}

// ChannelPriorityOrder returns the fixed channel trial order, primary first.
func ChannelPriorityOrder() []Channel {
	ordered := make([]Channel, len(channelPriority))
	copy(ordered, channelPriority)
	return ordered
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

// ConfirmsDelivery reports whether the channel's provider emits an explicit
// delivery confirmation. SMS providers send delivery reports; push and email
// are fire-and-forget, so their sends are conflated to delivered.
func (c Channel) ConfirmsDelivery() bool {
	return c == ChannelSMS
}

// ChannelAttemptStatus summarizes the delivery attempts made on one channel
// within the current delivery cycle.
type ChannelAttemptStatus struct {
	Attempted bool
	Failed    bool
	CanRetry  bool
}

// ChannelAttempt is one processed delivery attempt outcome.
type ChannelAttempt struct {
	Channel Channel
	Failed  bool
}

// SummarizeAttempts folds processed attempt outcomes into per-channel status.
// CanRetry is true only for channels that were attempted, failed on the most
// recent attempt, and still have retry budget.
func SummarizeAttempts(attempts []ChannelAttempt) map[Channel]ChannelAttemptStatus {
	counts := make(map[Channel]int, len(channelPriority))
	status := make(map[Channel]ChannelAttemptStatus, len(channelPriority))
	for _, attempt := range attempts {
		counts[attempt.Channel]++
		entry := status[attempt.Channel]
		entry.Attempted = true
		entry.Failed = attempt.Failed
		status[attempt.Channel] = entry
	}
	for channel, entry := range status {
		entry.CanRetry = entry.Attempted && entry.Failed && counts[channel] < MaxAttemptsPerChannel
		status[channel] = entry
	}
	return status
}

// NextChannel selects the next channel to attempt. Channels are visited in
// the fixed priority order; unavailable channels are skipped. For each
// available channel, a never-attempted channel is chosen first, then a failed
// channel with remaining retry budget. Retrying the current channel takes
// precedence over advancing down the priority order. The second return value
// is false when every available channel is spent.
func NextChannel(status map[Channel]ChannelAttemptStatus, available map[Channel]bool) (Channel, bool) {
	for _, channel := range channelPriority {
		if !available[channel] {
			continue
		}
		entry := status[channel]
		if !entry.Attempted {
			return channel, true
		}
		if entry.CanRetry {
			return channel, true
		}
	}
	return "", false
}

// IsExhausted reports whether delivery can make no further progress: every
// available channel either succeeded or was attempted to its retry limit
// without success. An exhausted message is finalized as failed with no
// recipient notification.
func IsExhausted(status map[Channel]ChannelAttemptStatus, available map[Channel]bool) bool {
	_, ok := NextChannel(status, available)
	return !ok
}
