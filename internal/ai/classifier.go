package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrClassification indicates the hosted model was unreachable or returned
// output that does not conform to the verdict schema. Unlike composition,
// classification has no deterministic fallback; callers see this error.
var ErrClassification = errors.New("distress classification failed")

// Detection is the classifier verdict.
type Detection struct {
	IsDistressDetected bool   `json:"is_distress_detected"`
	DetectedReason     string `json:"detected_reason"`
}

// Classifier decides whether an audio event description indicates distress.
type Classifier struct {
	client *Client
	logger *zap.Logger
}

// NewClassifier creates a distress classifier backed by the hosted model.
func NewClassifier(client *Client, logger *zap.Logger) *Classifier {
	return &Classifier{client: client, logger: logger}
}

const classifierSystemPrompt = `You are an AI assistant tasked with detecting distress from audio event descriptions.
Analyze the audio event description and determine if it indicates a distress situation.
Look for explicit distress keywords like "help", "bachao", "stop", or descriptions of panic sounds like "scream", "shout", or "cry for help".

Respond with a JSON object of exactly this shape:
{"is_distress_detected": <boolean>, "detected_reason": "<brief explanation, or 'No distress detected'>"}`

// Classify runs the audio event description through the hosted model and
// validates the verdict before trusting it. Any provider failure or
// non-conforming response wraps ErrClassification.
func (c *Classifier) Classify(ctx context.Context, audioEventDescription string) (*Detection, error) {
	if c.client == nil {
		return nil, fmt.Errorf("%w: no model client configured", ErrClassification)
	}

	userPrompt := "Audio Event Description: " + audioEventDescription

	raw, err := c.client.GenerateJSON(ctx, classifierSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	detection, err := parseDetection(raw)
	if err != nil {
		c.logger.Warn("classifier returned non-conforming output",
			zap.String("raw", raw),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	c.logger.Info("distress classification",
		zap.Bool("distress", detection.IsDistressDetected),
		zap.String("reason", detection.DetectedReason),
	)

	return detection, nil
}

// parseDetection coerces the model response into the strict verdict schema.
// Code fences are stripped; anything else non-conforming is rejected.
func parseDetection(raw string) (*Detection, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload struct {
		IsDistressDetected *bool   `json:"is_distress_detected"`
		DetectedReason     *string `json:"detected_reason"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("invalid verdict JSON: %v", err)
	}
	if payload.IsDistressDetected == nil {
		return nil, errors.New("verdict missing is_distress_detected")
	}
	if payload.DetectedReason == nil {
		return nil, errors.New("verdict missing detected_reason")
	}

	return &Detection{
		IsDistressDetected: *payload.IsDistressDetected,
		DetectedReason:     *payload.DetectedReason,
	}, nil
}
