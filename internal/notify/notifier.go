// Package notify delivers operator alerts over one or more channels
// (Telegram, Discord). Alerts are tagged with an event type so operators can
// subscribe to only the failures they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types raised by the pipeline.
const (
	EventReconnectGivenUp = "reconnect_given_up"
	EventQueueOverflow    = "queue_overflow"
	EventPersistFailure   = "persist_failure"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier (e.g. "telegram").
	Name() string
}

// Notifier fans an alert out to all registered senders, filtered by event
// type. It satisfies the Notify(ctx, subject, body) interfaces declared by
// the ingest and writer packages.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// listed in events are forwarded; an empty list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends body to all senders under the event's title, unless the event
// type is filtered out.
func (n *Notifier) Notify(ctx context.Context, event, body string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, event, body)
}

// dispatch fans out to every sender. Individual failures are collected; one
// broken channel does not block the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
