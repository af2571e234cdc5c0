// Package notify fans ledger events out to operator chat channels
// (Telegram, Discord). Events can be filtered by type so operators only
// hear about the lifecycle changes they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// DefaultEvents is the filter applied when none is configured.
var DefaultEvents = []string{
	string(domain.EventMarketCreated),
	string(domain.EventMarketResolved),
	string(domain.EventWinningsClaimed),
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders, forwarding only
// events in its allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier over senders. An empty events list allows
// every event type.
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
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event passes the filter.
func (n *Notifier) Enabled(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message to every sender if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		n.logger.DebugContext(ctx, "notify: event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyEvent formats a committed ledger event and sends it.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.LedgerEvent) error {
	title, message := FormatEvent(ev)
	return n.Notify(ctx, string(ev.Type), title, message)
}

// FormatEvent renders the title and body for ev.
func FormatEvent(ev domain.LedgerEvent) (title, message string) {
	switch ev.Type {
	case domain.EventMarketCreated:
		return "Market created", fmt.Sprintf("%s\n%s", ev.MarketID, ev.Question)
	case domain.EventBetPlaced:
		return "Bet placed", fmt.Sprintf("%s staked %d on %s (market %s)", ev.Owner, ev.Amount, ev.OutcomeID, ev.MarketID)
	case domain.EventMarketResolved:
		return "Market resolved", fmt.Sprintf("%s resolved to %s", ev.MarketID, ev.WinningOutcomeID)
	case domain.EventWinningsClaimed:
		return "Winnings claimed", fmt.Sprintf("%s claimed %d on market %s (bet %s)", ev.Owner, ev.Payout, ev.MarketID, ev.BetID)
	case domain.EventDeposit:
		return "Deposit", fmt.Sprintf("%d credited to %s", ev.Amount, ev.Owner)
	default:
		return string(ev.Type), ev.MarketID
	}
}

// dispatch sends to each sender in turn; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
