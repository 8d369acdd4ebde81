package events

import (
	"testing"
	"time"
)

func TestPublishDelivers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTradeOpened, 4)
	defer unsub()

	bus.Publish(EventTradeOpened, TradeEvent{OwnerID: "o1", Symbol: "BTC/USDT"})

	select {
	case got := <-ch:
		ev, ok := got.(TradeEvent)
		if !ok || ev.OwnerID != "o1" {
			t.Errorf("payload = %#v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventTradeClosed, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(EventTradeClosed, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if got := bus.Dropped(EventTradeClosed); got != 9 {
		t.Errorf("Dropped = %d, want 9", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventCopyPaused, 1)
	unsub()

	if _, open := <-ch; open {
		t.Error("channel not closed after unsubscribe")
	}
	// Publishing to a topic with no subscribers must be a no-op.
	bus.Publish(EventCopyPaused, nil)
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus()
	opened, u1 := bus.Subscribe(EventTradeOpened, 1)
	defer u1()

	bus.Publish(EventTradeRejected, "other topic")
	select {
	case got := <-opened:
		t.Errorf("cross-topic delivery: %#v", got)
	default:
	}
}
