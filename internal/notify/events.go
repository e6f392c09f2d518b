package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/castmarket/castmarket/internal/domain"
)

// Listener subscribes to the wager lifecycle channels on the signal bus and
// forwards each event to the Notifier. It is the bridge between the in-process
// pub/sub fabric and the operator-facing channels.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewListener creates a Listener that forwards bus events to the given
// notifier.
func NewListener(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes the wager and settlement channels until the context is
// cancelled. Malformed payloads and delivery failures are logged and skipped;
// notifications are best-effort.
func (l *Listener) Run(ctx context.Context) error {
	wagers, err := l.bus.Subscribe(ctx, domain.ChannelWagers)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelWagers, err)
	}
	settlements, err := l.bus.Subscribe(ctx, domain.ChannelSettlements)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelSettlements, err)
	}

	l.logger.Info("notification listener started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("notification listener stopped")
			return ctx.Err()
		case payload, ok := <-wagers:
			if !ok {
				return fmt.Errorf("notify: %s channel closed", domain.ChannelWagers)
			}
			l.handle(ctx, payload)
		case payload, ok := <-settlements:
			if !ok {
				return fmt.Errorf("notify: %s channel closed", domain.ChannelSettlements)
			}
			l.handle(ctx, payload)
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload []byte) {
	var ev domain.WagerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		l.logger.Warn("dropping malformed bus event", slog.String("error", err.Error()))
		return
	}

	title, message := formatEvent(ev)
	if err := l.notifier.Notify(ctx, ev.Event, title, message); err != nil {
		l.logger.Warn("notification delivery failed",
			slog.String("event", ev.Event),
			slog.Uint64("wager_id", uint64(ev.WagerID)),
			slog.String("error", err.Error()),
		)
	}
}

// formatEvent renders a lifecycle event as an operator alert. Amounts stay in
// base units; the receiving channel is an operator audience, not end users.
func formatEvent(ev domain.WagerEvent) (title, message string) {
	switch ev.Event {
	case domain.EventWagerPlaced:
		title = fmt.Sprintf("Wager #%d placed", ev.WagerID)
		message = fmt.Sprintf("bettor %s predicted %s for fid %d", ev.Bettor, ev.Metric, ev.SubjectFID)
	case domain.EventWagerSettled:
		title = fmt.Sprintf("Wager #%d %s", ev.WagerID, ev.Status)
		message = fmt.Sprintf("actual %d, payout %s (tx %s)", ev.ActualValue, ev.Payout, ev.TxHash)
	case domain.EventWagerCancelled:
		title = fmt.Sprintf("Wager #%d cancelled", ev.WagerID)
		message = fmt.Sprintf("stake refunded (tx %s)", ev.TxHash)
	case domain.EventOracleError:
		title = fmt.Sprintf("Oracle error on wager #%d", ev.WagerID)
		message = fmt.Sprintf("status %s at %s", ev.Status, ev.Timestamp.Format("15:04:05 MST"))
	default:
		title = ev.Event
		message = fmt.Sprintf("wager #%d", ev.WagerID)
	}
	return title, message
}
