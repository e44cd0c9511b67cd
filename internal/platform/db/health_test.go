package db

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestHealth_String(t *testing.T) {
	h := &Health{
		OK:            true,
		ServerVersion: "16.4",
		Latency:       1500 * time.Microsecond,
		Conns:         ConnCounts{Total: 2, Idle: 1, Max: 10},
	}
	got := h.String()
	if got != "postgres 16.4: ok in 2ms (conns total=2 idle=1 max=10)" {
		t.Errorf("unexpected summary %q", got)
	}

	down := &Health{Error: "connection refused"}
	if !strings.Contains(down.String(), "unreachable (connection refused)") {
		t.Errorf("unexpected summary %q", down.String())
	}
}

func TestHealth_JSON(t *testing.T) {
	b, err := json.Marshal(Health{OK: true, Conns: ConnCounts{Max: 4}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["ok"] != true {
		t.Errorf("expected ok true, got %v", m["ok"])
	}
	if _, ok := m["error"]; ok {
		t.Error("expected error to be omitted when empty")
	}
	conns, _ := m["conns"].(map[string]any)
	if conns["max"] != float64(4) {
		t.Errorf("expected conns.max 4, got %v", conns["max"])
	}
}
