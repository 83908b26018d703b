package balance

import (
	"testing"
	"time"
)

func TestRecordAndGet(t *testing.T) {
	c := NewCache()
	fixed := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	c.Record("user-a", 1000)
	c.Record("user-a", 950.5)

	s, ok := c.Get("user-a")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if s.Available != 950.5 || !s.UpdatedAt.Equal(fixed) {
		t.Errorf("snapshot = %+v", s)
	}

	if _, ok := c.Get("ghost"); ok {
		t.Error("unknown user must not have a snapshot")
	}
}

func TestAll(t *testing.T) {
	c := NewCache()
	c.Record("user-a", 100)
	c.Record("user-b", 200)

	if got := len(c.All()); got != 2 {
		t.Errorf("All() returned %d snapshots, want 2", got)
	}
}
