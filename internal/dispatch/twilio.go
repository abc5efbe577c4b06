package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// twilioAttempt is one message-creation call: plain SMS or WhatsApp-addressed.
type twilioAttempt struct {
	kind  string // "SMS" or "WhatsApp"
	to    string
	from  string
	phone string // recipient as given, for logs
}

// sendTwilio issues two send attempts per recipient (SMS and WhatsApp),
// all concurrently, and waits for every attempt to settle. No attempt
// cancels another; each fulfilled attempt is one transmission. The channel
// label is set to "both" whenever this block runs, regardless of outcomes.
func (d *Dispatcher) sendTwilio(ctx context.Context, req *Request, res *Result) {
	if !d.twilio.configured() {
		res.logf("[SIMULATOR] Twilio missing. Real SMS/WhatsApp skipped.")
		return
	}
	if len(req.RecipientPhones) == 0 {
		res.logf("[TWILIO] No recipients configured, skipping.")
		return
	}

	res.logf("[TWILIO] Keys detected. Sending via SMS and WhatsApp.")

	attempts := make([]twilioAttempt, 0, len(req.RecipientPhones)*2)
	for _, phone := range req.RecipientPhones {
		attempts = append(attempts,
			twilioAttempt{kind: "SMS", to: phone, from: d.twilio.FromNumber, phone: phone},
			twilioAttempt{kind: "WhatsApp", to: "whatsapp:" + phone, from: "whatsapp:" + d.twilio.FromNumber, phone: phone},
		)
	}

	// Scatter/gather: fire everything, settle everything.
	errs := make([]error, len(attempts))
	var wg sync.WaitGroup
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, a twilioAttempt) {
			defer wg.Done()
			errs[i] = d.twilioCreateMessage(ctx, a.from, a.to, req.Message)
		}(i, a)
	}
	wg.Wait()

	for i, a := range attempts {
		recordAttempt(strings.ToLower(a.kind), errs[i])
		if errs[i] != nil {
			res.logf("[TWILIO] %s failed for %s: %v", a.kind, a.phone, errs[i])
			continue
		}
		res.logf("[TWILIO] %s sent to %s", a.kind, a.phone)
		res.SentCount++
		res.Success = true
	}

	res.Channel = ChannelBoth
}

// twilioCreateMessage posts one message-creation call to the Twilio REST API.
func (d *Dispatcher) twilioCreateMessage(ctx context.Context, from, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", d.twilio.BaseURL, d.twilio.AccountSID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(d.twilio.AccountSID, d.twilio.AuthToken)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(preview))
	}

	return nil
}
