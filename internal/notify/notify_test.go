package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"crypto-tracker/internal/metrics"
	"crypto-tracker/internal/types"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.TriggeredEvent
	err    error
	panics bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Send(_ context.Context, event types.TriggeredEvent) error {
	if r.panics {
		panic("sink exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) alertIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.events))
	for _, e := range r.events {
		ids = append(ids, e.AlertID)
	}
	return ids
}

func event(id int64) types.TriggeredEvent {
	return types.TriggeredEvent{
		AlertID:          id,
		Symbol:           "BTC",
		CurrentPrice:     100000,
		TargetPrice:      95000,
		Condition:        types.ConditionAbove,
		PercentChange24h: 1.5,
		MarketCap:        1.95e12,
		Timestamp:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := metrics.New()
	d := NewDispatcher(4, m, a, b)
	d.Start()

	d.Notify(event(1))
	d.Notify(event(2))
	closeDispatcher(t, d)

	for _, s := range []*recordingSink{a, b} {
		if got := s.alertIDs(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
			t.Errorf("unexpected deliveries %v", got)
		}
	}
	if got := metrics.Value(m.NotificationsSent.WithLabelValues("recording", "ok")); got != 4 {
		t.Errorf("expected 4 successful sends, got %v", got)
	}
}

func TestDispatcherDropsOldestWhenFull(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New()
	d := NewDispatcher(2, m, sink)

	// worker not started yet so the queue fills up
	d.Notify(event(1))
	d.Notify(event(2))
	d.Notify(event(3))

	d.Start()
	closeDispatcher(t, d)

	got := sink.alertIDs()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("expected events 2 and 3, got %v", got)
	}
	if dropped := metrics.Value(m.NotificationsDropped); dropped != 1 {
		t.Errorf("expected 1 dropped notification, got %v", dropped)
	}
}

func TestDispatcherSurvivesSinkFailures(t *testing.T) {
	failing := &recordingSink{err: errors.New("network down")}
	panicking := &recordingSink{panics: true}
	healthy := &recordingSink{}
	m := metrics.New()
	d := NewDispatcher(4, m, failing, panicking, healthy)
	d.Start()

	d.Notify(event(7))
	closeDispatcher(t, d)

	if got := healthy.alertIDs(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("healthy sink should still receive the event, got %v", got)
	}
	if got := metrics.Value(m.NotificationsSent.WithLabelValues("recording", "error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
	if got := metrics.Value(m.NotificationsSent.WithLabelValues("recording", "panic")); got != 1 {
		t.Errorf("expected 1 panic, got %v", got)
	}
}

func TestNotifyAfterCloseDoesNotPanic(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(1, m)
	d.Start()
	closeDispatcher(t, d)

	d.Notify(event(1))
	closeDispatcher(t, d)

	if dropped := metrics.Value(m.NotificationsDropped); dropped != 1 {
		t.Errorf("expected the late event to be counted as dropped, got %v", dropped)
	}
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(event(1))
	for _, want := range []string{"PRICE ALERT: BTC", "Current price: $100,000", "Threshold (above): $95,000", "2024-05-01T12:00:00Z"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramSink(t *testing.T) {
	sender := &fakeSender{}
	sink := &TelegramSink{bot: sender, chatID: 42}

	if err := sink.Send(context.Background(), event(1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", sender.sent[0])
	}
	if msg.ChatID != 42 || msg.ParseMode != "MarkdownV2" {
		t.Errorf("unexpected message config %+v", msg)
	}
	if !strings.Contains(msg.Text, "*BTC*") || !strings.Contains(msg.Text, "100,000") {
		t.Errorf("unexpected text %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "24h Change: *\\+1\\.50%*") {
		t.Errorf("missing 24h change in %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "Market Cap: *$1\\.95 T*") {
		t.Errorf("missing market cap in %q", msg.Text)
	}

	noCap := event(3)
	noCap.MarketCap = 0
	if err := sink.Send(context.Background(), noCap); err != nil {
		t.Fatalf("send: %v", err)
	}
	if text := sender.sent[1].(tgbotapi.MessageConfig).Text; strings.Contains(text, "Market Cap") {
		t.Errorf("expected no market cap line without a market cap, got %q", text)
	}

	sender.err = errors.New("forbidden")
	if err := sink.Send(context.Background(), event(2)); err == nil {
		t.Error("expected send error")
	}
}
