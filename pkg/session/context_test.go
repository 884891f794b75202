package session

import "testing"

func TestContext_CloneIsDeep(t *testing.T) {
	original := Context{
		"difficulty": "hard",
		"progress":   map[string]any{"step": float64(3)},
	}

	clone := original.Clone()
	clone["difficulty"] = "easy"
	clone["progress"].(map[string]any)["step"] = float64(9)

	if original["difficulty"] != "hard" {
		t.Errorf("clone mutated top-level key: %v", original["difficulty"])
	}
	if original["progress"].(map[string]any)["step"] != float64(3) {
		t.Errorf("clone mutated nested key: %v", original["progress"])
	}
}

func TestContext_CloneNil(t *testing.T) {
	var c Context
	if clone := c.Clone(); clone != nil {
		t.Errorf("expected nil clone, got %v", clone)
	}
}
