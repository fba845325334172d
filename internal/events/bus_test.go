package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourcePipeline, Kind: KindTurnStart})
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
	if got := b.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestPublish_Subscribers(t *testing.T) {
	b := New()
	const n = 3
	subs := make([]<-chan Event, n)
	for i := range n {
		subs[i] = b.Subscribe(4)
	}

	b.Publish(Event{
		Source: SourcePipeline,
		Kind:   KindTurnComplete,
		Data:   map[string]any{"session_id": "s1", "status": "ok"},
	})

	for i, ch := range subs {
		select {
		case got := <-ch:
			if got.Kind != KindTurnComplete || got.Data["session_id"] != "s1" {
				t.Errorf("subscriber %d got %+v", i, got)
			}
			if got.Timestamp.IsZero() {
				t.Errorf("subscriber %d: timestamp not set", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
		b.Unsubscribe(ch)
	}
}

func TestPublish_DropsWhenFull(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	if got := <-ch; got.Kind != "first" {
		t.Errorf("got kind %q, want first", got.Kind)
	}
	select {
	case e := <-ch:
		t.Errorf("expected drop, got %+v", e)
	default:
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	other := b.Subscribe(1)

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel open after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}
	b.Unsubscribe(other)
	b.Publish(Event{Source: SourceJanitor, Kind: KindSweep})
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(16)

	var drained sync.WaitGroup
	drained.Add(1)
	received := 0
	go func() {
		defer drained.Done()
		for range ch {
			received++
		}
	}()

	var pubs sync.WaitGroup
	for i := range 8 {
		pubs.Add(1)
		go func() {
			defer pubs.Done()
			for j := range 50 {
				b.Publish(Event{Source: SourceTools, Kind: KindToolExecuted, Data: map[string]any{"p": i, "seq": j}})
			}
		}()
	}
	pubs.Wait()
	b.Unsubscribe(ch)
	drained.Wait()

	if int64(received)+b.Dropped() != 400 {
		t.Errorf("received %d + dropped %d != 400", received, b.Dropped())
	}
}
