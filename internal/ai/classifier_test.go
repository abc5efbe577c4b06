package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// newStubModelServer returns a server that answers every chat completion
// with the given content string.
func newStubModelServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: baseURL,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestClassifyDistressVerdicts(t *testing.T) {
	tests := []struct {
		name        string
		description string
		verdict     Detection
	}{
		{
			name:        "scream_and_shout",
			description: "I heard someone scream and shout for help",
			verdict:     Detection{IsDistressDetected: true, DetectedReason: "Scream and cry for help detected"},
		},
		{
			name:        "birds_chirping",
			description: "birds chirping in the park",
			verdict:     Detection{IsDistressDetected: false, DetectedReason: "No distress detected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := fmt.Sprintf(`{"is_distress_detected": %t, "detected_reason": %q}`,
				tt.verdict.IsDistressDetected, tt.verdict.DetectedReason)
			server := newStubModelServer(t, content)
			defer server.Close()

			classifier := NewClassifier(newTestClient(t, server.URL), zap.NewNop())

			detection, err := classifier.Classify(context.Background(), tt.description)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if detection.IsDistressDetected != tt.verdict.IsDistressDetected {
				t.Errorf("IsDistressDetected = %v, want %v",
					detection.IsDistressDetected, tt.verdict.IsDistressDetected)
			}
			if detection.DetectedReason != tt.verdict.DetectedReason {
				t.Errorf("DetectedReason = %q, want %q",
					detection.DetectedReason, tt.verdict.DetectedReason)
			}
		})
	}
}

func TestClassifyCoercesFencedJSON(t *testing.T) {
	content := "```json\n{\"is_distress_detected\": true, \"detected_reason\": \"Keyword help detected\"}\n```"
	server := newStubModelServer(t, content)
	defer server.Close()

	classifier := NewClassifier(newTestClient(t, server.URL), zap.NewNop())

	detection, err := classifier.Classify(context.Background(), "someone yelling help")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !detection.IsDistressDetected {
		t.Error("expected distress verdict")
	}
}

func TestClassifyRejectsNonConformingOutput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"prose", "Yes, that sounds like distress to me."},
		{"missing_reason", `{"is_distress_detected": true}`},
		{"missing_verdict", `{"detected_reason": "unclear"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newStubModelServer(t, tt.content)
			defer server.Close()

			classifier := NewClassifier(newTestClient(t, server.URL), zap.NewNop())

			_, err := classifier.Classify(context.Background(), "some event")
			if !errors.Is(err, ErrClassification) {
				t.Fatalf("error = %v, want ErrClassification", err)
			}
		})
	}
}

func TestClassifyProviderUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	server.Close() // connection refused

	classifier := NewClassifier(newTestClient(t, server.URL), zap.NewNop())

	_, err := classifier.Classify(context.Background(), "some event")
	if !errors.Is(err, ErrClassification) {
		t.Fatalf("error = %v, want ErrClassification", err)
	}
}
