package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/guardianlink/guardian/internal/media"
)

// sendDiscord posts the bannered message to the webhook. With media attached
// the post is a multipart form (payload_json plus up to two file parts);
// text-only alerts use the plain JSON body variant. One 2xx response is one
// transmission regardless of attachment count.
func (d *Dispatcher) sendDiscord(ctx context.Context, req *Request, res *Result) {
	res.logf("[DISCORD] Attempting delivery...")

	content := fmt.Sprintf("🚨 **GUARDIAN SOS ALERT** 🚨\n\n%s", req.Message)

	var (
		body        io.Reader
		contentType string
		err         error
	)

	if req.Audio != nil || req.Photo != nil {
		body, contentType, err = discordMultipartBody(content, req.Audio, req.Photo)
		if err != nil {
			res.logf("[DISCORD] Error: %v", err)
			recordAttempt("webhook", err)
			return
		}
	} else {
		payload, _ := json.Marshal(map[string]string{"content": content})
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.WebhookURL, body)
	if err != nil {
		res.logf("[DISCORD] Error: %v", err)
		recordAttempt("webhook", err)
		return
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		res.logf("[DISCORD] Error: %v", err)
		recordAttempt("webhook", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.logf("[DISCORD] Failed: Status %d", resp.StatusCode)
		recordAttempt("webhook", fmt.Errorf("status %d", resp.StatusCode))
		return
	}

	res.logf("[DISCORD] Success: Alert dispatched.")
	res.Success = true
	res.Channel = ChannelWebhook
	res.SentCount++
	recordAttempt("webhook", nil)
}

// discordAudioExt maps capture content types onto attachment extensions.
func discordAudioExt(contentType string) string {
	switch {
	case strings.Contains(contentType, "mp4"):
		return "m4a"
	case strings.Contains(contentType, "ogg"):
		return "ogg"
	default:
		return "webm"
	}
}

func discordMultipartBody(content string, audio, photo *media.Blob) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	payload, _ := json.Marshal(map[string]string{"content": content})
	if err := w.WriteField("payload_json", string(payload)); err != nil {
		return nil, "", fmt.Errorf("write payload_json: %w", err)
	}

	if audio != nil {
		name := "emergency_audio." + discordAudioExt(audio.ContentType)
		if err := writeFilePart(w, "file1", name, audio); err != nil {
			return nil, "", err
		}
	}

	if photo != nil {
		// Camera frames are captured as JPEG; the attachment name follows.
		if err := writeFilePart(w, "file2", "emergency_photo.jpg", photo); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

// writeFilePart adds a file part carrying the blob's declared content type.
func writeFilePart(w *multipart.Writer, field, filename string, blob *media.Blob) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if blob.ContentType != "" {
		h.Set("Content-Type", blob.ContentType)
	}

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(blob.Bytes); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}
