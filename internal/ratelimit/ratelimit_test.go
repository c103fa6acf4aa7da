package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

type fakeCounters struct {
	counts map[string]int64
	ages   map[string]time.Duration
	failOn string
}

func key(id string, w types.RateLimitWindow) string { return id + "|" + string(w) }

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: map[string]int64{}, ages: map[string]time.Duration{}}
}

func (f *fakeCounters) FetchRateCounter(_ context.Context, id string, w types.RateLimitWindow) (int64, error) {
	if f.failOn == string(w) {
		return 0, errFake
	}
	return f.counts[key(id, w)], nil
}

func (f *fakeCounters) UpsertRateCounter(_ context.Context, id string, w types.RateLimitWindow, delta int64) error {
	f.counts[key(id, w)] += delta
	return nil
}

func (f *fakeCounters) OldestCounterAge(_ context.Context, id string, w types.RateLimitWindow) (time.Duration, error) {
	return f.ages[key(id, w)], nil
}

func (f *fakeCounters) ResetRateCounters(_ context.Context, id string) error {
	for _, w := range windows {
		delete(f.counts, key(id, w))
	}
	delete(f.counts, key(id, types.WindowBurst))
	return nil
}

func (f *fakeCounters) CleanupExpiredRateCounters(_ context.Context) (int64, error) { return 0, nil }

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFake = fakeErr("boom")

func TestCheckAdmitsUnderLimit(t *testing.T) {
	counters := newFakeCounters()
	l := New(counters, types.DefaultTierTable)
	d, err := l.Check(context.Background(), "tenant-1", types.TierBasic, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected admit")
	}
}

func TestCheckRejectsAtMinuteLimitWithoutBurstRoom(t *testing.T) {
	counters := newFakeCounters()
	counters.counts[key("tenant-1", types.WindowMinute)] = types.DefaultTierTable[types.TierBasic].PerMinute
	counters.counts[key("tenant-1", types.WindowBurst)] = types.DefaultTierTable[types.TierBasic].BurstCapacity
	l := New(counters, types.DefaultTierTable)
	d, err := l.Check(context.Background(), "tenant-1", types.TierBasic, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected reject")
	}
	if d.RetryAfter < time.Second || d.RetryAfter > time.Minute {
		t.Fatalf("retry-after out of bounds: %v", d.RetryAfter)
	}
}

func TestCheckAdmitsFromBurstPool(t *testing.T) {
	counters := newFakeCounters()
	tier := types.DefaultTierTable[types.TierBasic]
	counters.counts[key("tenant-1", types.WindowMinute)] = tier.PerMinute
	l := New(counters, types.DefaultTierTable)
	d, err := l.Check(context.Background(), "tenant-1", types.TierBasic, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected burst admit")
	}
}

func TestCheckFailsOpenOnStoreError(t *testing.T) {
	counters := newFakeCounters()
	counters.failOn = string(types.WindowMinute)
	l := New(counters, types.DefaultTierTable)
	d, err := l.Check(context.Background(), "tenant-1", types.TierBasic, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || !d.FailedOpen {
		t.Fatal("expected fail-open admit")
	}
}

func TestCheckRejectsOverDayLimit(t *testing.T) {
	counters := newFakeCounters()
	tier := types.DefaultTierTable[types.TierBasic]
	counters.counts[key("tenant-1", types.WindowDay)] = tier.PerDay
	l := New(counters, types.DefaultTierTable)
	d, err := l.Check(context.Background(), "tenant-1", types.TierBasic, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected day-window reject")
	}
}
