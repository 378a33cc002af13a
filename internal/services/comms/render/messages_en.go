package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.AmericanEnglish

	// Delivery state labels. The recipient-facing keys stay neutral: a failed
	// delivery renders as pending for recipients and as requires-attention
	// for school staff.
	message.SetString(lang, "comms.state.draft", "Draft")
	message.SetString(lang, "comms.state.pending", "Pending")
	message.SetString(lang, "comms.state.approved", "Approved")
	message.SetString(lang, "comms.state.queued", "Queued")
	message.SetString(lang, "comms.state.sending", "Sending")
	message.SetString(lang, "comms.state.sent", "Sent")
	message.SetString(lang, "comms.state.delivered", "Delivered")
	message.SetString(lang, "comms.state.failed", "Failed")
	message.SetString(lang, "comms.state.requires_attention", "Requires attention")
	message.SetString(lang, "comms.state.cancelled", "Cancelled")
}
