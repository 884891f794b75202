package recovery

import (
	"encoding/json"
	"hash/fnv"
	"strconv"

	"github.com/traindeck-dev/traindeck/pkg/session"
)

// checksumPayload is the canonical input to the snapshot checksum: the
// session context plus the message count at capture time. encoding/json
// sorts map keys, so the serialization is deterministic.
type checksumPayload struct {
	Context      session.Context `json:"context"`
	MessageCount int             `json:"messageCount"`
}

// Checksum computes the integrity checksum for a snapshot's context and
// message count. FNV-64a is a corruption heuristic, not a security control.
func Checksum(sctx session.Context, messageCount int) string {
	data, err := json.Marshal(checksumPayload{
		Context:      sctx,
		MessageCount: messageCount,
	})
	if err != nil {
		// Contexts are JSON-sourced; this only trips on unserializable
		// caller-injected values. An empty checksum never validates.
		return ""
	}

	h := fnv.New64a()
	_, _ = h.Write(data)
	return strconv.FormatUint(h.Sum64(), 16)
}

// ValidateSnapshot recomputes the checksum from the snapshot's stored
// context and chat history length and compares it to the recorded value.
func ValidateSnapshot(snap *SessionSnapshot) bool {
	if snap == nil {
		return false
	}
	return Checksum(snap.Context, len(snap.ChatHistory)) == snap.RecoveryMetadata.Checksum
}
