package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan StateChangedEvent, 1)

	unsub := bus.Subscribe(func(e StateChangedEvent) {
		received <- e
	})
	defer unsub()

	ev := StateChangedEvent{SessionID: "s1", From: "starting", To: "running"}
	bus.Publish(ev)

	select {
	case got := <-received:
		if got != ev {
			t.Errorf("Expected %+v, got %+v", ev, got)
		}
	case <-time.After(time.Second):
		t.Fatal("Event not delivered")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	received1 := make(chan QualityChangedEvent, 1)
	received2 := make(chan QualityChangedEvent, 1)

	unsub1 := bus.Subscribe(func(e QualityChangedEvent) { received1 <- e })
	defer unsub1()
	unsub2 := bus.Subscribe(func(e QualityChangedEvent) { received2 <- e })
	defer unsub2()

	bus.Publish(QualityChangedEvent{From: "normal", To: "level1_frame_drop"})

	for i, ch := range []chan QualityChangedEvent{received1, received2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d did not receive the event", i+1)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan SessionFailedEvent, 1)

	unsub := bus.Subscribe(func(e SessionFailedEvent) { received <- e })
	bus.Publish(SessionFailedEvent{Code: "source_unavailable"})
	<-received

	unsub()

	bus.Publish(SessionFailedEvent{Code: "sustained_failure"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()
	fallback := make(chan bool, 1)
	status := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(BackendFallbackEvent) { fallback <- true })
	defer unsub1()
	unsub2 := bus.Subscribe(func(StatusEvent) { status <- true })
	defer unsub2()

	bus.Publish(BackendFallbackEvent{Active: "software"})
	<-fallback

	select {
	case <-status:
		t.Fatal("Status subscriber received a fallback event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestBus_ThreadSafety(t *testing.T) {
	bus := New()
	const goroutines, perGoroutine = 10, 100
	received := make(chan struct{}, goroutines*perGoroutine)

	unsub := bus.Subscribe(func(StatusEvent) { received <- struct{}{} })
	defer unsub()

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				bus.Publish(StatusEvent{SessionID: "s"})
			}
		}()
	}
	wg.Wait()

	for i := 0; i < goroutines*perGoroutine; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("Received %d of %d events", i, goroutines*perGoroutine)
		}
	}
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		keys []string
	}{
		{"status", StatusEvent{SessionID: "s", Status: map[string]int{"fps": 30}}, []string{"session_id", "status", "timestamp"}},
		{"state", StateChangedEvent{From: "running", To: "stopping"}, []string{"from", "to"}},
		{"quality", QualityChangedEvent{To: "level2_downscale", Width: 960}, []string{"to", "width", "bitrate_kbps"}},
		{"fallback", BackendFallbackEvent{Active: "software", LiveSwap: true}, []string{"active", "live_swap", "reason"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}
			var result map[string]any
			if err := json.Unmarshal(data, &result); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			for _, k := range tt.keys {
				if _, ok := result[k]; !ok {
					t.Errorf("Expected key %q in %s", k, data)
				}
			}
		})
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[SourcesRefreshedEvent](bus, ch)
	defer unsub()

	bus.Publish(SourcesRefreshedEvent{Count: 3})

	select {
	case received := <-ch:
		ev, ok := received.(SourcesRefreshedEvent)
		if !ok {
			t.Fatalf("Expected SourcesRefreshedEvent, got %T", received)
		}
		if ev.Count != 3 {
			t.Errorf("Expected count 3, got %d", ev.Count)
		}
	case <-time.After(time.Second):
		t.Fatal("Event not forwarded to channel")
	}
}

func TestSubscribeToChannel_NonBlocking(t *testing.T) {
	bus := New()
	ch := make(chan any)

	unsub := SubscribeToChannel[StateChangedEvent](bus, ch)
	defer unsub()

	done := make(chan struct{})
	go func() {
		bus.Publish(StateChangedEvent{To: "running"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full channel")
	}
}
