package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSessionOpened    EventType = "session_opened"
	EventPaymentConfirmed EventType = "payment_confirmed"
	EventPaymentRejected  EventType = "payment_rejected"
	EventPassageActivated EventType = "passage_activated"
	EventPayoutMade       EventType = "payout_made"
	EventReminderDue      EventType = "reminder_due"
)

type Event struct {
	Type      EventType
	TontineID uuid.UUID
	SessionID uuid.UUID
	MemberID  uuid.UUID
	Amount    int64
	At        time.Time
}

// Notifier delivers events to members. Delivery is fire-and-forget: a
// failed or slow notification never blocks or fails the core operation
// that raised it.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Dispatcher queues events onto a worker goroutine and hands them to a
// sender (SMS, email, push). When the queue is full the event is dropped
// and logged.
type Dispatcher struct {
	sender Sender
	queue  chan Event
	logger *slog.Logger
}

type Sender interface {
	Send(ctx context.Context, event Event) error
}

func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		queue:  make(chan Event, 256),
		logger: logger,
	}
}

// Start runs the delivery loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return
		case event := <-d.queue:
			if err := d.sender.Send(ctx, event); err != nil {
				d.logger.Error("notification delivery failed",
					"event_type", event.Type,
					"tontine_id", event.TontineID,
					"error", err,
				)
			}
		}
	}
}

func (d *Dispatcher) Notify(_ context.Context, event Event) {
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("notification queue full, dropping event",
			"event_type", event.Type,
			"tontine_id", event.TontineID,
		)
	}
}

// LogSender is the default sender; real SMS/email transports are wired in
// deployment-specific builds.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, event Event) error {
	s.logger.Info("notification",
		"event_type", event.Type,
		"tontine_id", event.TontineID,
		"session_id", event.SessionID,
		"member_id", event.MemberID,
		"amount", event.Amount,
	)
	return nil
}

// Noop satisfies Notifier for tests.
type Noop struct{}

func (Noop) Notify(context.Context, Event) {}
