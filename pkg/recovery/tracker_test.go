package recovery

import (
	"testing"
	"time"
)

func TestTracker_TrackOverwrites(t *testing.T) {
	tr := newTracker()

	tr.track("sess-1", "user-1", "socket-a")
	state := tr.track("sess-1", "user-1", "socket-b")

	if state.SocketID != "socket-b" {
		t.Errorf("expected re-track to overwrite socket: %s", state.SocketID)
	}
	if tr.size() != 1 {
		t.Errorf("expected a single entry, got %d", tr.size())
	}
}

func TestTracker_HeartbeatReconnects(t *testing.T) {
	tr := newTracker()

	if _, tracked := tr.heartbeat("untracked"); tracked {
		t.Error("heartbeat on untracked session should not register it")
	}

	tr.track("sess-1", "user-1", "socket-a")
	if reconnected, _ := tr.heartbeat("sess-1"); reconnected {
		t.Error("heartbeat on a connected session is not a reconnection")
	}

	tr.disconnect("sess-1")
	reconnected, tracked := tr.heartbeat("sess-1")
	if !tracked || !reconnected {
		t.Fatalf("expected reconnection: reconnected=%v tracked=%v", reconnected, tracked)
	}

	state, _ := tr.get("sess-1")
	if !state.Connected || state.RecoveryPending {
		t.Errorf("reconnection should clear pending recovery: %+v", state)
	}
}

func TestTracker_DisconnectMarksPending(t *testing.T) {
	tr := newTracker()
	tr.track("sess-1", "user-1", "socket-a")

	state, ok := tr.disconnect("sess-1")
	if !ok {
		t.Fatal("disconnect on tracked session failed")
	}
	if state.Connected {
		t.Error("still marked connected")
	}
	if !state.RecoveryPending {
		t.Error("recovery not marked pending")
	}
	if state.LastDisconnect == nil {
		t.Error("disconnect time not recorded")
	}

	if _, ok := tr.disconnect("untracked"); ok {
		t.Error("disconnect on untracked session should report not ok")
	}
}

func TestTracker_TimeoutExpiredGate(t *testing.T) {
	tr := newTracker()
	tr.track("sess-1", "user-1", "socket-a")
	tr.disconnect("sess-1")

	// A reconnect that wins the race neutralizes the timeout.
	tr.reconnect("sess-1", "user-1", "socket-b")
	if _, expired := tr.timeoutExpired("sess-1"); expired {
		t.Error("timeout should be a no-op after reconnection")
	}

	tr.disconnect("sess-1")
	state, expired := tr.timeoutExpired("sess-1")
	if !expired {
		t.Fatal("expected timeout to proceed while recovery pending")
	}
	if state.UserID != "user-1" {
		t.Errorf("wrong state returned: %+v", state)
	}
	if _, ok := tr.get("sess-1"); ok {
		t.Error("expired session should be removed from the table")
	}

	// A second fire for the same session is a no-op.
	if _, expired := tr.timeoutExpired("sess-1"); expired {
		t.Error("double expiry should not proceed")
	}
}

func TestTracker_ArmTimeoutReplacesTimer(t *testing.T) {
	tr := newTracker()
	tr.track("sess-1", "user-1", "socket-a")
	tr.disconnect("sess-1")

	fired := make(chan string, 4)
	tr.armTimeout("sess-1", 10*time.Millisecond, func() { fired <- "first" })
	tr.armTimeout("sess-1", 20*time.Millisecond, func() { fired <- "second" })

	select {
	case who := <-fired:
		if who != "second" {
			t.Errorf("stale timer fired: %s", who)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	select {
	case who := <-fired:
		t.Errorf("extra fire from %s", who)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTracker_ReconnectCreatesMissingEntry(t *testing.T) {
	tr := newTracker()

	state := tr.reconnect("sess-1", "user-1", "socket-a")
	if !state.Connected {
		t.Error("reconnect should mark connected")
	}
	if state.ReconnectAttempts != 1 {
		t.Errorf("attempts: got %d, want 1", state.ReconnectAttempts)
	}

	state = tr.reconnect("sess-1", "user-1", "socket-b")
	if state.ReconnectAttempts != 2 {
		t.Errorf("attempts: got %d, want 2", state.ReconnectAttempts)
	}
}

func TestTracker_Stale(t *testing.T) {
	tr := newTracker()
	tr.track("sess-live", "user-1", "socket-a")
	tr.track("sess-quiet", "user-2", "socket-b")

	// Backdate one heartbeat past the cutoff.
	tr.mu.Lock()
	tr.conns["sess-quiet"].LastHeartbeat = time.Now().Add(-2 * time.Minute)
	tr.mu.Unlock()

	stale := tr.stale(time.Minute)
	if len(stale) != 1 || stale[0] != "sess-quiet" {
		t.Errorf("stale detection wrong: %v", stale)
	}

	// Disconnected sessions are not re-reported as stale.
	tr.disconnect("sess-quiet")
	if stale := tr.stale(time.Minute); len(stale) != 0 {
		t.Errorf("disconnected session reported stale: %v", stale)
	}
}

func TestTracker_Clear(t *testing.T) {
	tr := newTracker()
	tr.track("sess-1", "user-1", "socket-a")
	tr.track("sess-2", "user-2", "socket-b")
	tr.disconnect("sess-1")
	tr.armTimeout("sess-1", time.Hour, func() {})

	tr.clear()
	if tr.size() != 0 {
		t.Errorf("expected empty table, got %d", tr.size())
	}
}
