package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestEventIsMonotonic(t *testing.T) {
	prev := Event()
	for i := 0; i < 1000; i++ {
		next := Event()
		if next <= prev {
			t.Fatalf("event ids not increasing: %s then %s", prev, next)
		}
		if _, err := ulid.ParseStrict(next); err != nil {
			t.Fatalf("invalid ulid %q: %v", next, err)
		}
		prev = next
	}
}

func TestSession(t *testing.T) {
	a, b := Session(), Session()
	if a == b {
		t.Error("session ids collide")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("invalid uuid %q: %v", a, err)
	}
}
