// Package dispatch fans a composed emergency message out across up to three
// independent delivery channels: Discord webhook, Telegram Bot API, and
// Twilio SMS/WhatsApp. Channels are best-effort: failures are logged on the
// result and never abort the remaining channels.
package dispatch

import (
	"fmt"

	"github.com/guardianlink/guardian/internal/media"
)

// Channel is the informational "primary label" reported on a result.
// Logs are the authoritative per-attempt record.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWebhook  Channel = "webhook"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
	ChannelBoth     Channel = "both"
	ChannelAll      Channel = "all"
)

// Request describes one multi-channel delivery attempt. Channel credentials
// carried on the request (webhook URL, Telegram bot token/chat id) gate their
// channels; the Twilio channel is gated by deployment configuration instead.
type Request struct {
	RecipientPhones  []string
	Message          string
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
	Audio            *media.Blob
	Photo            *media.Blob
}

// Result aggregates per-channel outcomes. Success is true iff at least one
// individual transmission succeeded. SentCount counts transmissions, not
// channels or recipients: one Discord post, one Telegram send, one Twilio
// SMS, and one Twilio WhatsApp message are one unit each.
type Result struct {
	Success   bool
	SentCount int
	Channel   Channel
	Logs      []string
}

func (r *Result) logf(format string, args ...interface{}) {
	r.Logs = append(r.Logs, fmt.Sprintf(format, args...))
}
