package realtime

import (
	"testing"
	"time"

	v1 "tearoom/shared/contracts/realtime/v1"
)

func TestFrameBudget_JoinCostsDouble(t *testing.T) {
	t.Parallel()

	t0 := time.Unix(1_700_000_000, 0)
	b := newFrameBudget(4, 10*time.Second)

	if ok, _ := b.charge(t0, v1.TypeJoinRoom); !ok {
		t.Fatalf("first join should pass")
	}
	if ok, _ := b.charge(t0.Add(time.Second), v1.TypeLeaveRoom); !ok {
		t.Fatalf("leave should pass")
	}
	ok, retry := b.charge(t0.Add(2*time.Second), v1.TypeJoinRoom)
	if ok {
		t.Fatalf("join should not fit in the one remaining slot")
	}
	if retry != 8*time.Second {
		t.Fatalf("retry=%v want 8s", retry)
	}
	if ok, _ := b.charge(t0.Add(2*time.Second), v1.TypeLeaveRoom); !ok {
		t.Fatalf("denied join must not consume the budget")
	}
}

func TestFrameBudget_WindowSlides(t *testing.T) {
	t.Parallel()

	t0 := time.Unix(1_700_000_000, 0)
	b := newFrameBudget(4, 10*time.Second)

	b.charge(t0, v1.TypeJoinRoom)
	b.charge(t0.Add(time.Second), v1.TypeLeaveRoom)

	at := t0.Add(10 * time.Second)
	if ok, _ := b.charge(at, v1.TypeJoinRoom); !ok {
		t.Fatalf("stamps at the window edge should have expired")
	}
	if ok, _ := b.charge(at, v1.TypeLeaveRoom); !ok {
		t.Fatalf("fourth slot should be free")
	}
	ok, retry := b.charge(at, v1.TypeLeaveRoom)
	if ok || retry != time.Second {
		t.Fatalf("ok=%v retry=%v want denied with 1s", ok, retry)
	}
}

func TestFrameBudget_Defaults(t *testing.T) {
	t.Parallel()

	b := newFrameBudget(0, 0)
	if len(b.stamps) != rateLimitEvents || b.window != rateLimitWindow {
		t.Fatalf("defaults not applied: limit=%d window=%v", len(b.stamps), b.window)
	}

	// A join still fits a budget smaller than its cost.
	one := newFrameBudget(1, time.Minute)
	if ok, _ := one.charge(time.Now(), v1.TypeJoinRoom); !ok {
		t.Fatalf("join should pass a single-slot budget")
	}
}
