package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/guardianlink/guardian/internal/media"
)

func newTestDispatcher(cfg Config) *Dispatcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return New(cfg, zap.NewNop())
}

func TestDispatchNoChannelsConfigured(t *testing.T) {
	d := newTestDispatcher(Config{})

	res := d.Dispatch(context.Background(), &Request{
		RecipientPhones: []string{"+15550001111"},
		Message:         "test alert",
	})

	if res.Success {
		t.Error("success should be false with no channels configured")
	}
	if res.SentCount != 0 {
		t.Errorf("sentCount = %d, want 0", res.SentCount)
	}
	if len(res.Logs) == 0 {
		t.Error("logs must be non-empty")
	}
}

func TestDispatchWebhookSuccess(t *testing.T) {
	var gotBody struct {
		Content string `json:"content"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(Config{})

	res := d.Dispatch(context.Background(), &Request{
		Message:    "I need help",
		WebhookURL: server.URL,
	})

	if !res.Success {
		t.Error("expected success")
	}
	if res.SentCount < 1 {
		t.Errorf("sentCount = %d, want >= 1", res.SentCount)
	}
	if res.Channel != ChannelWebhook {
		t.Errorf("channel = %q, want webhook", res.Channel)
	}
	if !strings.Contains(gotBody.Content, "GUARDIAN SOS ALERT") {
		t.Errorf("posted content missing alert banner: %q", gotBody.Content)
	}
	if !strings.Contains(gotBody.Content, "I need help") {
		t.Errorf("posted content missing message: %q", gotBody.Content)
	}
}

func TestDispatchWebhookFailureIsLoggedNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	d := newTestDispatcher(Config{})

	res := d.Dispatch(context.Background(), &Request{
		Message:    "alert",
		WebhookURL: server.URL,
	})

	if res.Success {
		t.Error("expected failure")
	}
	found := false
	for _, line := range res.Logs {
		if strings.Contains(line, "[DISCORD] Failed: Status 404") {
			found = true
		}
	}
	if !found {
		t.Errorf("logs missing webhook failure line: %v", res.Logs)
	}
}

func TestDispatchWebhookWithMediaAttachments(t *testing.T) {
	var gotFiles []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart form: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.MultipartForm.Value["payload_json"] == nil {
			t.Error("missing payload_json field")
		}
		for field, headers := range r.MultipartForm.File {
			for _, h := range headers {
				gotFiles = append(gotFiles, field+":"+h.Filename)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(Config{})

	res := d.Dispatch(context.Background(), &Request{
		Message:    "alert",
		WebhookURL: server.URL,
		Audio:      &media.Blob{Bytes: []byte("audio"), ContentType: "audio/mp4"},
		Photo:      &media.Blob{Bytes: []byte("photo"), ContentType: "image/jpeg"},
	})

	// One transmission regardless of attachment count.
	if res.SentCount != 1 {
		t.Errorf("sentCount = %d, want 1", res.SentCount)
	}

	want := map[string]bool{
		"file1:emergency_audio.m4a": false,
		"file2:emergency_photo.jpg": false,
	}
	for _, f := range gotFiles {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("missing attachment %s (got %v)", name, gotFiles)
		}
	}
}

// newTelegramServer records Bot API method calls and answers 2xx.
func newTelegramServer(t *testing.T, methods *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		*methods = append(*methods, parts[len(parts)-1])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
}

func TestDispatchTelegramTextOnly(t *testing.T) {
	var methods []string
	server := newTelegramServer(t, &methods)
	defer server.Close()

	d := newTestDispatcher(Config{TelegramBaseURL: server.URL})

	res := d.Dispatch(context.Background(), &Request{
		Message:          "alert",
		TelegramBotToken: "bot-token",
		TelegramChatID:   "12345",
	})

	if !res.Success || res.SentCount != 1 {
		t.Fatalf("success=%v sentCount=%d, want true/1", res.Success, res.SentCount)
	}
	if res.Channel != ChannelTelegram {
		t.Errorf("channel = %q, want telegram", res.Channel)
	}
	if len(methods) != 1 || methods[0] != "sendMessage" {
		t.Errorf("methods = %v, want [sendMessage]", methods)
	}
}

func TestDispatchTelegramPhotoAndVoice(t *testing.T) {
	var methods []string
	server := newTelegramServer(t, &methods)
	defer server.Close()

	d := newTestDispatcher(Config{TelegramBaseURL: server.URL})

	res := d.Dispatch(context.Background(), &Request{
		Message:          "alert",
		TelegramBotToken: "bot-token",
		TelegramChatID:   "12345",
		Audio:            &media.Blob{Bytes: []byte("audio"), ContentType: "audio/webm"},
		Photo:            &media.Blob{Bytes: []byte("photo"), ContentType: "image/jpeg"},
	})

	// Photo and voice are independent transmissions.
	if res.SentCount != 2 {
		t.Errorf("sentCount = %d, want 2", res.SentCount)
	}
	if len(methods) != 2 || methods[0] != "sendPhoto" || methods[1] != "sendVoice" {
		t.Errorf("methods = %v, want [sendPhoto sendVoice]", methods)
	}
}

func TestDispatchChannelAllWhenBothFreeChannelsSucceed(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()

	d := newTestDispatcher(Config{TelegramBaseURL: okServer.URL})

	res := d.Dispatch(context.Background(), &Request{
		Message:          "alert",
		WebhookURL:       okServer.URL,
		TelegramBotToken: "bot-token",
		TelegramChatID:   "12345",
	})

	if res.Channel != ChannelAll {
		t.Errorf("channel = %q, want all", res.Channel)
	}
	if res.SentCount != 2 {
		t.Errorf("sentCount = %d, want 2", res.SentCount)
	}
}

func TestDispatchTwilioAllAttemptsSucceed(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("To") == "" || r.PostForm.Get("From") == "" || r.PostForm.Get("Body") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	d := newTestDispatcher(Config{
		Twilio: TwilioConfig{
			AccountSID: "AC123",
			AuthToken:  "secret",
			FromNumber: "+15550009999",
			BaseURL:    server.URL,
		},
	})

	res := d.Dispatch(context.Background(), &Request{
		RecipientPhones: []string{"+15550001111", "+15550002222"},
		Message:         "alert",
	})

	// Two phones, SMS + WhatsApp each.
	if res.SentCount != 4 {
		t.Errorf("sentCount = %d, want 4", res.SentCount)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if res.Channel != ChannelBoth {
		t.Errorf("channel = %q, want both", res.Channel)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("API calls = %d, want 4", got)
	}
}

func TestDispatchTwilioPartialFailure(t *testing.T) {
	// WhatsApp-addressed sends fail, plain SMS succeeds.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if strings.HasPrefix(r.PostForm.Get("To"), "whatsapp:") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	d := newTestDispatcher(Config{
		Twilio: TwilioConfig{
			AccountSID: "AC123",
			AuthToken:  "secret",
			FromNumber: "+15550009999",
			BaseURL:    server.URL,
		},
	})

	res := d.Dispatch(context.Background(), &Request{
		RecipientPhones: []string{"+15550001111"},
		Message:         "alert",
	})

	if res.SentCount != 1 {
		t.Errorf("sentCount = %d, want 1", res.SentCount)
	}
	if !res.Success {
		t.Error("one settled success must mark the dispatch successful")
	}

	var smsSent, waFailed bool
	for _, line := range res.Logs {
		if strings.Contains(line, "SMS sent to +15550001111") {
			smsSent = true
		}
		if strings.Contains(line, "WhatsApp failed for +15550001111") {
			waFailed = true
		}
	}
	if !smsSent || !waFailed {
		t.Errorf("logs missing per-attempt records: %v", res.Logs)
	}
}

func TestDispatchTelephonyShadowedByFailingWebhookLabel(t *testing.T) {
	// Webhook credential present but failing; Twilio succeeds. The
	// aggregation rule checks credential presence, so the label reports
	// webhook while sentCount preserves the telephony contribution.
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failServer.Close()

	twilioServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer twilioServer.Close()

	d := newTestDispatcher(Config{
		Twilio: TwilioConfig{
			AccountSID: "AC123",
			AuthToken:  "secret",
			FromNumber: "+15550009999",
			BaseURL:    twilioServer.URL,
		},
	})

	res := d.Dispatch(context.Background(), &Request{
		RecipientPhones: []string{"+15550001111"},
		Message:         "alert",
		WebhookURL:      failServer.URL,
	})

	if res.SentCount != 2 {
		t.Errorf("sentCount = %d, want 2", res.SentCount)
	}
	if res.Channel != ChannelWebhook {
		t.Errorf("channel = %q, want webhook (presence-based label)", res.Channel)
	}
}

func TestDispatchTelegramFailureAddsTip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
	}))
	defer server.Close()

	d := newTestDispatcher(Config{TelegramBaseURL: server.URL})

	res := d.Dispatch(context.Background(), &Request{
		Message:          "alert",
		TelegramBotToken: "bot-token",
		TelegramChatID:   "12345",
	})

	if res.Success {
		t.Error("expected failure")
	}
	var gotDetail, gotTip bool
	for _, line := range res.Logs {
		if strings.Contains(line, "chat not found") {
			gotDetail = true
		}
		if strings.Contains(line, "TIP:") {
			gotTip = true
		}
	}
	if !gotDetail || !gotTip {
		t.Errorf("logs missing failure detail or tip: %v", res.Logs)
	}
}

func TestVoiceExtMapping(t *testing.T) {
	tests := []struct {
		contentType string
		telegram    string
		discord     string
	}{
		{"audio/webm", "webm", "webm"},
		{"audio/mp4", "m4a", "m4a"},
		{"audio/ogg;codecs=opus", "ogg", "ogg"},
		{"audio/wav", "ogg", "webm"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := telegramVoiceExt(tt.contentType); got != tt.telegram {
				t.Errorf("telegramVoiceExt = %q, want %q", got, tt.telegram)
			}
			if got := discordAudioExt(tt.contentType); got != tt.discord {
				t.Errorf("discordAudioExt = %q, want %q", got, tt.discord)
			}
		})
	}
}
