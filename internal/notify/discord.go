package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embed colours by tone.
const (
	discordNeutral  = 0x5865F2
	discordPositive = 0x2ECC71
	discordNegative = 0xE74C3C
)

// maxDiscordRetryWait caps how long a 429 may hold the notifier.
const maxDiscordRetryWait = 5 * time.Second

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender posts each message as one webhook embed, coloured by tone
// and footed with the event name.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	sleep      func(context.Context, time.Duration) error
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		sleep:      sleepCtx,
	}
}

func discordEmbedFor(m Message) discordEmbed {
	e := discordEmbed{Title: m.Title, Description: m.Body, Color: discordNeutral}
	switch m.Tone {
	case TonePositive:
		e.Color = discordPositive
	case ToneNegative:
		e.Color = discordNegative
	}
	for _, f := range m.Fields {
		if f.Value != "" {
			e.Fields = append(e.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
		}
	}
	if !m.At.IsZero() {
		e.Timestamp = m.At.UTC().Format(time.RFC3339)
	}
	if m.Event != "" {
		e.Footer = &discordFooter{Text: m.Event}
	}
	return e
}

// Send posts m. A 429 is retried once after the webhook's retry_after.
func (d *DiscordSender) Send(ctx context.Context, m Message) error {
	body, err := json.Marshal(discordPayload{Username: "polypaper", Embeds: []discordEmbed{discordEmbedFor(m)}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	for attempt := 0; ; attempt++ {
		status, wait, respBody, err := d.post(ctx, body)
		if err != nil {
			return err
		}
		switch {
		case status >= 200 && status < 300:
			return nil
		case status == http.StatusTooManyRequests && attempt == 0:
			if err := d.sleep(ctx, min(wait, maxDiscordRetryWait)); err != nil {
				return fmt.Errorf("discord: rate limited: %w", err)
			}
		default:
			return fmt.Errorf("discord: unexpected status %d: %s", status, respBody)
		}
	}
}

func (d *DiscordSender) post(ctx context.Context, body []byte) (int, time.Duration, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, "", fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, 0, "", fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var wait time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if json.Unmarshal(raw, &rl) == nil && rl.RetryAfter > 0 {
			wait = time.Duration(rl.RetryAfter * float64(time.Second))
		}
	}
	return resp.StatusCode, wait, string(raw), nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
