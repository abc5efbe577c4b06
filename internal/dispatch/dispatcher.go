package dispatch

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/guardianlink/guardian/internal/metrics"
)

// alertBanner prefixes every channel message so recipients recognize the
// alert at a glance.
const alertBanner = "🚨 GUARDIAN SOS ALERT 🚨"

// TwilioConfig holds the telephony provider credentials, sourced from the
// deployment environment. The channel runs only when all three are set.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string // default: https://api.twilio.com/2010-04-01
}

func (c TwilioConfig) configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

// Config holds dispatcher settings.
type Config struct {
	Twilio          TwilioConfig
	TelegramBaseURL string        // default: https://api.telegram.org
	Timeout         time.Duration // per-request HTTP timeout, default 15s
}

// Dispatcher delivers alerts across the configured channels.
type Dispatcher struct {
	client          *http.Client
	twilio          TwilioConfig
	telegramBaseURL string
	logger          *zap.Logger
}

// New creates a dispatcher.
func New(cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.TelegramBaseURL == "" {
		cfg.TelegramBaseURL = "https://api.telegram.org"
	}
	if cfg.Twilio.BaseURL == "" {
		cfg.Twilio.BaseURL = "https://api.twilio.com/2010-04-01"
	}

	return &Dispatcher{
		client:          &http.Client{Timeout: cfg.Timeout},
		twilio:          cfg.Twilio,
		telegramBaseURL: cfg.TelegramBaseURL,
		logger:          logger,
	}
}

// Dispatch attempts delivery on each channel in fixed order: Discord webhook,
// then Telegram, then Twilio. Blocks run sequentially and independently; a
// channel failure is logged on the result and never escalated. Dispatch
// always returns a Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Result {
	res := &Result{Channel: ChannelSMS}
	res.logf("[SYSTEM] Initializing multi-channel dispatch...")

	if req.WebhookURL != "" {
		d.sendDiscord(ctx, req, res)
	}

	if req.TelegramBotToken != "" && req.TelegramChatID != "" {
		d.sendTelegram(ctx, req, res)
	}

	d.sendTwilio(ctx, req, res)

	// Relabel the primary channel when the free channels delivered. The rule
	// checks credential presence, not per-channel success, so a Twilio-only
	// success behind a present-but-failing webhook keeps the webhook label.
	// Downstream display logic branches on these exact values; logs remain
	// the authoritative record.
	if res.Success && res.SentCount > 0 {
		switch {
		case req.TelegramBotToken != "" && req.WebhookURL != "":
			res.Channel = ChannelAll
		case req.TelegramBotToken != "":
			res.Channel = ChannelTelegram
		case req.WebhookURL != "":
			res.Channel = ChannelWebhook
		}
	}

	res.Success = res.Success || res.SentCount > 0

	d.logger.Info("dispatch complete",
		zap.Bool("success", res.Success),
		zap.Int("sent_count", res.SentCount),
		zap.String("channel", string(res.Channel)),
	)

	return res
}

// recordAttempt feeds the per-channel outcome counters.
func recordAttempt(channel string, err error) {
	if err != nil {
		metrics.RecordDispatchAttempt(channel, "failure")
		return
	}
	metrics.RecordDispatchAttempt(channel, "success")
	metrics.RecordTransmission(channel)
}
