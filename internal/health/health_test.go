package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestStoreCheckerHealthy(t *testing.T) {
	c := NewStoreChecker(fakePinger{})
	res := c.Check(context.Background())
	if !res.Healthy {
		t.Fatalf("expected healthy, got: %s", res.Message)
	}
}

func TestStoreCheckerUnhealthy(t *testing.T) {
	c := NewStoreChecker(fakePinger{err: errors.New("connection refused")})
	res := c.Check(context.Background())
	if res.Healthy {
		t.Fatalf("expected unhealthy")
	}
}

type fakeBlobs struct {
	data map[string][]byte
}

func (f *fakeBlobs) Put(key string, data []byte, ttl time.Duration) error {
	f.data[key] = append([]byte(nil), data...)
	return nil
}
func (f *fakeBlobs) Get(key string) ([]byte, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}
func (f *fakeBlobs) Delete(key string) error {
	delete(f.data, key)
	return nil
}

func TestBlobCheckerRoundTrip(t *testing.T) {
	c := NewBlobChecker(&fakeBlobs{data: map[string][]byte{}})
	res := c.Check(context.Background())
	if !res.Healthy {
		t.Fatalf("expected healthy, got: %s", res.Message)
	}
}

type fakeEstimator struct{ n int }

func (f fakeEstimator) EstimateTokens(prompt string) int { return f.n }

func TestProviderCheckerNotConfigured(t *testing.T) {
	c := NewProviderChecker("anthropic", nil)
	res := c.Check(context.Background())
	if res.Healthy {
		t.Fatalf("expected unhealthy for nil provider")
	}
}

func TestProviderCheckerHealthy(t *testing.T) {
	c := NewProviderChecker("anthropic", fakeEstimator{n: 5})
	res := c.Check(context.Background())
	if !res.Healthy {
		t.Fatalf("expected healthy, got: %s", res.Message)
	}
}

func TestAggregatorReportsUnhealthyIfAnyComponentFails(t *testing.T) {
	agg := NewAggregator(map[string]Checker{
		"store": NewStoreChecker(fakePinger{}),
		"blob":  NewStoreChecker(fakePinger{err: errors.New("down")}),
	}, time.Second)
	report := agg.Check(context.Background())
	if report.Healthy {
		t.Fatalf("expected overall unhealthy report")
	}
	if len(report.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(report.Components))
	}
}

func TestAggregatorReportsHealthyWhenAllPass(t *testing.T) {
	agg := NewAggregator(map[string]Checker{
		"store": NewStoreChecker(fakePinger{}),
		"blob":  NewStoreChecker(fakePinger{}),
	}, time.Second)
	report := agg.Check(context.Background())
	if !report.Healthy {
		t.Fatalf("expected overall healthy report")
	}
}
