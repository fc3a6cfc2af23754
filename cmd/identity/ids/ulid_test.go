package ids

import (
	"testing"
	"time"
)

func TestNewULID_SortsByTime(t *testing.T) {
	t.Parallel()

	a, err := NewULID(time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	b, err := NewULID(time.Unix(1_700_000_100, 0))
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected lengths %d %d", len(a), len(b))
	}
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
	if !Valid(a) || Valid("nope") {
		t.Fatalf("Valid mismatch")
	}
}
