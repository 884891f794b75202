package recovery

import (
	"sync"
	"time"
)

// tracker is the in-memory table of per-session connection state plus the
// one-shot recovery-timeout timers. All state transitions happen under its
// mutex; no store I/O is ever performed while the lock is held.
type tracker struct {
	mu       sync.Mutex
	conns    map[string]*ConnectionState
	timeouts map[string]*time.Timer
}

func newTracker() *tracker {
	return &tracker{
		conns:    make(map[string]*ConnectionState),
		timeouts: make(map[string]*time.Timer),
	}
}

// track registers a fresh connection, overwriting any prior entry for the
// session and disarming its stale timeout timer.
func (t *tracker) track(sessionID, userID, socketID string) ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimeoutLocked(sessionID)
	state := &ConnectionState{
		SessionID:     sessionID,
		UserID:        userID,
		SocketID:      socketID,
		Connected:     true,
		LastHeartbeat: time.Now().UTC(),
	}
	t.conns[sessionID] = state
	return *state
}

// heartbeat refreshes the session's liveness. A heartbeat on a disconnected
// entry counts as a reconnection and disarms the pending timeout.
func (t *tracker) heartbeat(sessionID string) (reconnected, tracked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.conns[sessionID]
	if !ok {
		return false, false
	}

	state.LastHeartbeat = time.Now().UTC()
	if !state.Connected {
		state.Connected = true
		state.RecoveryPending = false
		t.stopTimeoutLocked(sessionID)
		return true, true
	}
	return false, true
}

// disconnect marks the session disconnected and recovery-pending.
func (t *tracker) disconnect(sessionID string) (ConnectionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.conns[sessionID]
	if !ok {
		return ConnectionState{}, false
	}

	now := time.Now().UTC()
	state.Connected = false
	state.LastDisconnect = &now
	state.RecoveryPending = true
	return *state, true
}

// reconnect restores a session's connected state after a disconnect,
// creating the entry if the tracker lost it (e.g. across a restart).
func (t *tracker) reconnect(sessionID, userID, socketID string) ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimeoutLocked(sessionID)
	state, ok := t.conns[sessionID]
	if !ok {
		state = &ConnectionState{
			SessionID: sessionID,
			UserID:    userID,
		}
		t.conns[sessionID] = state
	}

	state.SocketID = socketID
	state.Connected = true
	state.LastHeartbeat = time.Now().UTC()
	state.RecoveryPending = false
	state.ReconnectAttempts++
	return *state
}

// armTimeout schedules the one-shot recovery timeout for a session,
// replacing any existing timer.
func (t *tracker) armTimeout(sessionID string, d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimeoutLocked(sessionID)
	t.timeouts[sessionID] = time.AfterFunc(d, fire)
}

// timeoutExpired is the checked-late-cancellation gate: the timer cannot be
// unscheduled reliably, so the fire path re-verifies that recovery is still
// pending before abandoning. Returns the removed entry when abandonment
// should proceed.
func (t *tracker) timeoutExpired(sessionID string) (ConnectionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.conns[sessionID]
	if !ok || state.Connected || !state.RecoveryPending {
		return ConnectionState{}, false
	}

	delete(t.conns, sessionID)
	delete(t.timeouts, sessionID)
	return *state, true
}

// get returns a copy of the session's connection state.
func (t *tracker) get(sessionID string) (ConnectionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.conns[sessionID]
	if !ok {
		return ConnectionState{}, false
	}
	return *state, true
}

// stale returns the sessions whose connections have gone silent.
func (t *tracker) stale(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-timeout)
	var ids []string
	for id, state := range t.conns {
		if state.Connected && state.LastHeartbeat.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// remove drops a session's entry and timer.
func (t *tracker) remove(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimeoutLocked(sessionID)
	delete(t.conns, sessionID)
}

// clear drops every entry and timer.
func (t *tracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timeouts {
		timer.Stop()
		delete(t.timeouts, id)
	}
	t.conns = make(map[string]*ConnectionState)
}

// size returns the number of tracked sessions.
func (t *tracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *tracker) stopTimeoutLocked(sessionID string) {
	if timer, ok := t.timeouts[sessionID]; ok {
		timer.Stop()
		delete(t.timeouts, sessionID)
	}
}
