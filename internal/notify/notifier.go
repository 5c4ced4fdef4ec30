// Package notify fans operator alerts out to chat channels. The
// engine and sagas emit events; which events actually page anyone is
// a deployment choice, so the notifier carries an allow-list.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Events the rest of the engine raises. A saga parks itself, gives up,
// or unwinds; the risk manager pulls the global halt.
const (
	EventSagaStuck   = "saga_stuck"
	EventSagaAborted = "saga_aborted"
	EventSagaFailed  = "saga_failed"
	EventGlobalHalt  = "global_halt"
)

// Sender delivers one formatted message to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier routes events to its senders, honoring the configured
// allow-list. An empty list means everything goes through.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	var allowed map[string]struct{}
	for _, ev := range events {
		ev = strings.TrimSpace(ev)
		if ev == "" {
			continue
		}
		if allowed == nil {
			allowed = make(map[string]struct{})
		}
		allowed[ev] = struct{}{}
	}
	return &Notifier{senders: senders, allowed: allowed, logger: logger}
}

// Notify sends title/message to every sender if the event passes the
// allow-list. A failing sender does not stop delivery to the rest;
// the errors come back joined so none of them is silently dropped.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n.allowed != nil {
		if _, ok := n.allowed[event]; !ok {
			return nil
		}
	}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("notification failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
