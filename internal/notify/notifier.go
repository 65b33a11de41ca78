// Package notify fans paper-trading events out to chat channels. Delivery is
// best effort: events are queued and dropped when the queue is full, so a
// slow webhook never holds up the trading tick.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event names accepted in the notify.events filter.
const (
	EventPositionOpened   = "position_opened"
	EventPositionResolved = "position_resolved"
	EventWindowRolled     = "window_rolled"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send renders m for the channel and delivers it.
	Send(ctx context.Context, m Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Tone colours a message: a won trade is positive, a lost one negative.
type Tone int

const (
	ToneNeutral Tone = iota
	TonePositive
	ToneNegative
)

// Field is one labelled value of a message, e.g. "entry" = "0.450".
type Field struct {
	Name  string
	Value string
}

// Message is one queued notification.
type Message struct {
	Event  string
	Title  string
	Body   string
	Tone   Tone
	Fields []Field
	At     time.Time
}

// Text renders m as plain lines: title, body, then "name: value" fields.
func (m Message) Text() string {
	parts := []string{m.Title, m.Body}
	for _, f := range m.Fields {
		if f.Value != "" {
			parts = append(parts, f.Name+": "+f.Value)
		}
	}
	return lines(parts...)
}

const queueSize = 64

// Notifier dispatches notifications to one or more Senders, filtered by event
// type. An empty filter allows every event.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan Message
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan Message, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Allows reports whether event passes the filter.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Enqueue queues m for Run without blocking. It reports false when m was
// filtered out or the queue was full.
func (n *Notifier) Enqueue(m Message) bool {
	if !n.Enabled() || !n.Allows(m.Event) {
		return false
	}
	select {
	case n.queue <- m:
		return true
	default:
		n.logger.Warn("notification queue full, dropping", slog.String("event", m.Event))
		return false
	}
}

// Run delivers queued messages until ctx ends.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-n.queue:
			_ = n.Notify(ctx, m)
		}
	}
}

// Notify sends m synchronously when its event passes the filter.
func (n *Notifier) Notify(ctx context.Context, m Message) error {
	if !n.Allows(m.Event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", m.Event))
		return nil
	}
	return n.dispatch(ctx, m)
}

// dispatch sends to every sender. One failing sender does not prevent
// delivery to the rest; failures are combined.
func (n *Notifier) dispatch(ctx context.Context, m Message) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, m); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", m.Title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
