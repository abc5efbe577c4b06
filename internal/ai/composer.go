package ai

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ComposeInput carries the data points every emergency message must embed.
type ComposeInput struct {
	LocationLink     string   // Google Maps link, included verbatim
	DetectedKeywords []string // non-empty
	AudioDescription string   // optional
}

// ComposeResult is the composed emergency message. Fallback reports whether
// the deterministic template was used instead of the hosted model.
type ComposeResult struct {
	Message  string
	Fallback bool
}

// Composer produces the emergency message sent to contacts. The hosted model
// writes it when available; any model failure, including rate limiting,
// silently degrades to the deterministic template. Compose never fails.
type Composer struct {
	client *Client
	logger *zap.Logger
}

// NewComposer creates a message composer. The client may be nil, in which
// case every composition uses the fallback template.
func NewComposer(client *Client, logger *zap.Logger) *Composer {
	return &Composer{client: client, logger: logger}
}

const composerSystemPrompt = `You are an AI assistant designed to generate concise and urgent emergency messages.

Craft a personalized emergency message for the user's emergency contacts. The message should be clear, actionable, and include the following details:

1. A clear statement that the user is in distress and needs help immediately.
2. The user's live location via the provided Google Maps link, included verbatim.
3. Any detected distress keywords that provide context about the situation.
4. Optionally, a description of any significant audio events detected.
5. A direct call to action for the recipients.

Keep the message brief and to the point, suitable for an SMS or instant message.
Respond with the message text only.`

// Compose builds the emergency message. It never returns an error: the
// fallback path has no external dependency and always produces a string
// embedding the same data points.
func (c *Composer) Compose(ctx context.Context, input ComposeInput) ComposeResult {
	if c.client != nil {
		userPrompt := c.buildUserPrompt(input)
		message, err := c.client.GenerateText(ctx, composerSystemPrompt, userPrompt)
		if err == nil && strings.TrimSpace(message) != "" {
			return ComposeResult{Message: strings.TrimSpace(message)}
		}
		c.logger.Warn("model composition failed, using fallback template",
			zap.Error(err),
		)
	}

	return ComposeResult{Message: fallbackMessage(input), Fallback: true}
}

func (c *Composer) buildUserPrompt(input ComposeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Detected Keywords: %s\n", strings.Join(input.DetectedKeywords, ", "))
	if input.AudioDescription != "" {
		fmt.Fprintf(&b, "Audio Event: %s\n", input.AudioDescription)
	}
	fmt.Fprintf(&b, "Location: %s\n", input.LocationLink)
	return b.String()
}

// fallbackMessage is the model-free template. It embeds the location link,
// keyword list, and audio description verbatim.
func fallbackMessage(input ComposeInput) string {
	keywords := strings.Join(input.DetectedKeywords, ", ")

	audio := ""
	if input.AudioDescription != "" {
		audio = "\nEvent: " + input.AudioDescription
	}

	return fmt.Sprintf("🚨 GUARDIAN SOS 🚨\n\nI am in DISTRESS and need immediate help. Please check on me now.\n\nMy Location: %s\nTriggers: %s%s\n\nPlease contact emergency services or come to my location immediately.",
		input.LocationLink, keywords, audio)
}
