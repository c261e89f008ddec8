package ratelimit

import (
	"testing"
	"time"

	"github.com/luigi-home/luigid/internal/clock"
)

func testTiers() map[Tier]TierConfig {
	return map[Tier]TierConfig{
		TierGlobal:    {Limit: 3, Window: time.Minute},
		TierAuth:      {Limit: 2, Window: time.Minute},
		TierSensitive: {Limit: 1, Window: time.Second},
	}
}

func TestCheck_AllowsUpToLimit(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := New(testTiers(), mock)

	for i := 0; i < 3; i++ {
		if d := l.Check("10.0.0.1", TierGlobal); !d.Allowed {
			t.Fatalf("request %d rejected, want allowed", i+1)
		}
	}

	d := l.Check("10.0.0.1", TierGlobal)
	if d.Allowed {
		t.Error("request over the ceiling was allowed")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, 1m]", d.RetryAfter)
	}
}

func TestCheck_WindowReset(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := New(testTiers(), mock)

	for i := 0; i < 3; i++ {
		l.Check("10.0.0.1", TierGlobal)
	}
	if d := l.Check("10.0.0.1", TierGlobal); d.Allowed {
		t.Fatal("over-ceiling request allowed before window elapsed")
	}

	mock.Advance(time.Minute)

	if d := l.Check("10.0.0.1", TierGlobal); !d.Allowed {
		t.Error("request after window elapsed was rejected")
	}
}

func TestCheck_TiersIndependent(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := New(testTiers(), mock)

	// Exhaust auth tier; global tier keeps its own budget.
	l.Check("10.0.0.1", TierAuth)
	l.Check("10.0.0.1", TierAuth)
	if d := l.Check("10.0.0.1", TierAuth); d.Allowed {
		t.Fatal("auth tier over-ceiling request allowed")
	}

	if d := l.Check("10.0.0.1", TierGlobal); !d.Allowed {
		t.Error("global tier affected by auth tier exhaustion")
	}
}

func TestCheck_KeysIndependent(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := New(testTiers(), mock)

	l.Check("10.0.0.1", TierSensitive)
	if d := l.Check("10.0.0.1", TierSensitive); d.Allowed {
		t.Fatal("over-ceiling request allowed")
	}

	if d := l.Check("10.0.0.2", TierSensitive); !d.Allowed {
		t.Error("different IP was rejected")
	}
}

func TestCheck_UnknownTierAllows(t *testing.T) {
	l := New(testTiers(), clock.NewMockClock(time.Now()))

	if d := l.Check("10.0.0.1", Tier("bogus")); !d.Allowed {
		t.Error("unknown tier rejected a request")
	}
}

func TestPeek_DoesNotConsume(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := New(testTiers(), mock)

	for i := 0; i < 10; i++ {
		if d := l.Peek("10.0.0.1", TierAuth); !d.Allowed {
			t.Fatalf("peek %d rejected with no requests counted", i+1)
		}
	}

	l.Check("10.0.0.1", TierAuth)
	l.Check("10.0.0.1", TierAuth)

	d := l.Peek("10.0.0.1", TierAuth)
	if d.Allowed {
		t.Error("peek allowed at ceiling")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, 1m]", d.RetryAfter)
	}

	mock.Advance(time.Minute)

	if d := l.Peek("10.0.0.1", TierAuth); !d.Allowed {
		t.Error("peek rejected after window elapsed")
	}
}

func TestReset(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := New(testTiers(), mock)

	l.Check("10.0.0.1", TierSensitive)
	if d := l.Check("10.0.0.1", TierSensitive); d.Allowed {
		t.Fatal("over-ceiling request allowed")
	}

	l.Reset("10.0.0.1", TierSensitive)

	if d := l.Check("10.0.0.1", TierSensitive); !d.Allowed {
		t.Error("request after Reset was rejected")
	}
}

func TestCleanupExpired(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := New(testTiers(), mock)

	l.Check("10.0.0.1", TierGlobal)
	l.Check("10.0.0.2", TierGlobal)

	mock.Advance(time.Hour)
	l.Check("10.0.0.2", TierGlobal)

	l.CleanupExpired(30 * time.Minute)

	l.mu.RLock()
	_, stale := l.windows["10.0.0.1|global"]
	_, fresh := l.windows["10.0.0.2|global"]
	l.mu.RUnlock()

	if stale {
		t.Error("stale window survived cleanup")
	}
	if !fresh {
		t.Error("fresh window removed by cleanup")
	}
}

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()

	if tiers[TierGlobal].Limit != 100 || tiers[TierGlobal].Window != 15*time.Minute {
		t.Errorf("global tier = %+v", tiers[TierGlobal])
	}
	if tiers[TierAuth].Limit != 5 {
		t.Errorf("auth tier limit = %d, want 5", tiers[TierAuth].Limit)
	}
	if tiers[TierSensitive].Limit != 20 || tiers[TierSensitive].Window != time.Minute {
		t.Errorf("sensitive tier = %+v", tiers[TierSensitive])
	}
}
