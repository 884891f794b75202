package session

import "encoding/json"

// Context is the opaque per-session training state: difficulty, progress,
// scenario metrics. The recovery subsystem copies it by value and never
// inspects it.
type Context map[string]any

// Clone returns a deep copy of the context via a JSON round trip, so that
// snapshots never alias live session state.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		// Context values come from JSON in the first place; a marshal
		// failure means a caller stored something unserializable.
		out := make(Context, len(c))
		for k, v := range c {
			out[k] = v
		}
		return out
	}
	var out Context
	if err := json.Unmarshal(data, &out); err != nil {
		out = make(Context, len(c))
		for k, v := range c {
			out[k] = v
		}
	}
	return out
}
