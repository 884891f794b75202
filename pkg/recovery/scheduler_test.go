package recovery

import (
	"sync"
	"testing"
	"time"
)

type fireRecorder struct {
	mu    sync.Mutex
	count map[string]int
	ch    chan string
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{
		count: make(map[string]int),
		ch:    make(chan string, 64),
	}
}

func (r *fireRecorder) fire(sessionID string) {
	r.mu.Lock()
	r.count[sessionID]++
	r.mu.Unlock()
	r.ch <- sessionID
}

func (r *fireRecorder) total(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[sessionID]
}

func waitFire(t *testing.T, r *fireRecorder) string {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never fired")
		return ""
	}
}

func TestScheduler_FiresAndRearms(t *testing.T) {
	rec := newFireRecorder()
	s := newScheduler(10*time.Millisecond, rec.fire)
	defer s.stop()

	s.schedule("sess-1")

	waitFire(t, rec)
	waitFire(t, rec)

	if got := rec.total("sess-1"); got < 2 {
		t.Errorf("expected periodic re-arm, got %d fires", got)
	}
}

func TestScheduler_CancelStopsFiring(t *testing.T) {
	rec := newFireRecorder()
	s := newScheduler(10*time.Millisecond, rec.fire)
	defer s.stop()

	s.schedule("sess-1")
	waitFire(t, rec)
	s.cancel("sess-1")

	// Drain anything in flight, then verify silence.
	time.Sleep(30 * time.Millisecond)
	for len(rec.ch) > 0 {
		<-rec.ch
	}
	settled := rec.total("sess-1")

	time.Sleep(50 * time.Millisecond)
	if got := rec.total("sess-1"); got != settled {
		t.Errorf("fires continued after cancel: %d -> %d", settled, got)
	}
}

func TestScheduler_RescheduleKeepsOneTimer(t *testing.T) {
	rec := newFireRecorder()
	s := newScheduler(30*time.Millisecond, rec.fire)
	defer s.stop()

	// Rapid re-scheduling must collapse to a single pending timer.
	for i := 0; i < 10; i++ {
		s.schedule("sess-1")
	}

	waitFire(t, rec)
	time.Sleep(10 * time.Millisecond)

	if got := rec.total("sess-1"); got > 2 {
		t.Errorf("re-scheduling multiplied timers: %d fires", got)
	}
}

func TestScheduler_StopPreventsScheduling(t *testing.T) {
	rec := newFireRecorder()
	s := newScheduler(10*time.Millisecond, rec.fire)

	s.schedule("sess-1")
	s.stop()
	s.schedule("sess-2")

	time.Sleep(50 * time.Millisecond)
	if got := rec.total("sess-1") + rec.total("sess-2"); got != 0 {
		t.Errorf("fires after stop: %d", got)
	}
}

func TestScheduler_SessionsIndependent(t *testing.T) {
	rec := newFireRecorder()
	s := newScheduler(10*time.Millisecond, rec.fire)
	defer s.stop()

	s.schedule("sess-a")
	s.schedule("sess-b")
	s.cancel("sess-a")

	deadline := time.After(2 * time.Second)
	for rec.total("sess-b") < 2 {
		select {
		case <-rec.ch:
		case <-deadline:
			t.Fatal("surviving schedule stopped firing")
		}
	}

	if got := rec.total("sess-a"); got != 0 {
		t.Errorf("cancelled session fired %d times", got)
	}
}
