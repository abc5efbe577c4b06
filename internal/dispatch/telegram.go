package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// sendTelegram delivers the alert via the Bot API. With a photo present the
// message rides as the photo caption; otherwise it is sent as plain text.
// A captured audio clip follows separately as a voice message. Each send is
// an independent transmission; only the photo/text send marks the channel.
func (d *Dispatcher) sendTelegram(ctx context.Context, req *Request, res *Result) {
	res.logf("[TELEGRAM] Attempting delivery via Bot API...")

	// Plain text to avoid Bot API HTML parsing errors on link characters.
	text := fmt.Sprintf("%s\n\n%s", alertBanner, req.Message)

	if req.Photo != nil {
		err := d.telegramSendPhoto(ctx, req, text)
		recordAttempt("telegram", err)
		if err != nil {
			res.logf("[TELEGRAM] Photo failed: %v", err)
		} else {
			res.logf("[TELEGRAM] Photo sent.")
			res.Success = true
			res.Channel = ChannelTelegram
			res.SentCount++
		}
	} else {
		err := d.telegramSendText(ctx, req, text)
		recordAttempt("telegram", err)
		if err != nil {
			res.logf("[TELEGRAM] Failed: %v", err)
			res.logf("[TELEGRAM] TIP: Ensure you clicked 'START' in your bot and used a numeric Chat ID.")
		} else {
			res.logf("[TELEGRAM] Text sent.")
			res.Success = true
			res.Channel = ChannelTelegram
			res.SentCount++
		}
	}

	if req.Audio != nil {
		err := d.telegramSendVoice(ctx, req)
		recordAttempt("telegram", err)
		if err != nil {
			res.logf("[TELEGRAM] Voice failed: %v", err)
		} else {
			res.logf("[TELEGRAM] Voice message sent.")
			res.SentCount++
		}
	}
}

func (d *Dispatcher) telegramEndpoint(token, method string) string {
	return fmt.Sprintf("%s/bot%s/%s", d.telegramBaseURL, token, method)
}

func (d *Dispatcher) telegramSendText(ctx context.Context, req *Request, text string) error {
	payload, _ := json.Marshal(map[string]string{
		"chat_id": req.TelegramChatID,
		"text":    text,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.telegramEndpoint(req.TelegramBotToken, "sendMessage"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return d.telegramDo(httpReq)
}

func (d *Dispatcher) telegramSendPhoto(ctx context.Context, req *Request, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", req.TelegramChatID)
	_ = w.WriteField("caption", caption)
	if err := writeFilePart(w, "photo", "emergency_photo.jpg", req.Photo); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.telegramEndpoint(req.TelegramBotToken, "sendPhoto"), &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	return d.telegramDo(httpReq)
}

func (d *Dispatcher) telegramSendVoice(ctx context.Context, req *Request) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", req.TelegramChatID)

	name := "voice_alert." + telegramVoiceExt(req.Audio.ContentType)
	if err := writeFilePart(w, "voice", name, req.Audio); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.telegramEndpoint(req.TelegramBotToken, "sendVoice"), &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	return d.telegramDo(httpReq)
}

// telegramDo executes the request and surfaces the Bot API error description
// when the response is not 2xx.
func (d *Dispatcher) telegramDo(req *http.Request) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var apiErr struct {
		Description string `json:"description"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Description != "" {
		return fmt.Errorf("%s", apiErr.Description)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

// telegramVoiceExt maps capture content types onto voice note extensions.
func telegramVoiceExt(contentType string) string {
	switch {
	case strings.Contains(contentType, "webm"):
		return "webm"
	case strings.Contains(contentType, "mp4"):
		return "m4a"
	default:
		return "ogg"
	}
}
