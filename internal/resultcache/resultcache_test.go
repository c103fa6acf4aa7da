package resultcache

import (
	"context"
	"testing"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

type fakeIndex struct {
	entries map[string]*types.CacheEntry
}

func newFakeIndex() *fakeIndex { return &fakeIndex{entries: map[string]*types.CacheEntry{}} }

func (f *fakeIndex) InsertCacheIndex(_ context.Context, e *types.CacheEntry) error {
	cp := *e
	f.entries[e.CacheKey] = &cp
	return nil
}
func (f *fakeIndex) LookupCacheIndex(_ context.Context, key string) (*types.CacheEntry, error) {
	e, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	return e, nil
}
func (f *fakeIndex) TouchCacheAccess(_ context.Context, key string) {
	if e, ok := f.entries[key]; ok {
		e.AccessCount++
	}
}
func (f *fakeIndex) DeleteCacheByKey(_ context.Context, key string) error {
	delete(f.entries, key)
	return nil
}
func (f *fakeIndex) DeleteCacheByFile(_ context.Context, fp string) (int64, error) {
	var n int64
	for k, e := range f.entries {
		if e.FileFingerprint == fp {
			delete(f.entries, k)
			n++
		}
	}
	return n, nil
}
func (f *fakeIndex) DeleteCacheByTag(_ context.Context, tag string) (int64, error) {
	var n int64
	for k, e := range f.entries {
		for _, t := range e.Tags {
			if t == tag {
				delete(f.entries, k)
				n++
				break
			}
		}
	}
	return n, nil
}

type fakeBlobs struct {
	data map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{data: map[string][]byte{}} }

func (f *fakeBlobs) Put(key string, data []byte, _ time.Duration) error {
	f.data[key] = data
	return nil
}
func (f *fakeBlobs) Get(key string) ([]byte, bool, error) {
	d, ok := f.data[key]
	return d, ok, nil
}
func (f *fakeBlobs) Delete(key string) error {
	delete(f.data, key)
	return nil
}

func testConfig() types.JobConfig {
	return types.JobConfig{AnalysisDepth: types.DepthStandard, TranslationDetail: types.DetailBasic, ProviderID: "anthropic"}
}

func TestSetThenLookupRoundTrips(t *testing.T) {
	idx, blobs := newFakeIndex(), newFakeBlobs()
	c := New(idx, blobs, time.Hour)
	cfg := testConfig()
	if err := c.Set(context.Background(), "filefp123", cfg, []byte(`{"a":1}`), []string{"functions"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, ok, err := c.Lookup(context.Background(), "filefp123", cfg)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected data: %s", data)
	}
}

func TestLookupMissReturnsFalse(t *testing.T) {
	idx, blobs := newFakeIndex(), newFakeBlobs()
	c := New(idx, blobs, time.Hour)
	_, ok, err := c.Lookup(context.Background(), "nope", testConfig())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestKeyIdenticalForIdenticalInputs(t *testing.T) {
	cfg := testConfig()
	k1 := Key("filefp123", cfg)
	k2 := Key("filefp123", cfg)
	if k1 != k2 {
		t.Fatalf("expected identical keys, got %s vs %s", k1, k2)
	}
}

func TestKeyDiffersByConfig(t *testing.T) {
	cfg1 := testConfig()
	cfg2 := testConfig()
	cfg2.AnalysisDepth = types.DepthDeep
	if Key("filefp123", cfg1) == Key("filefp123", cfg2) {
		t.Fatal("expected distinct keys for distinct configs")
	}
}

func TestInvalidateByFileRemovesOnlyThatFile(t *testing.T) {
	idx, blobs := newFakeIndex(), newFakeBlobs()
	c := New(idx, blobs, time.Hour)
	cfg := testConfig()
	_ = c.Set(context.Background(), "file-a", cfg, []byte("a"), nil)
	_ = c.Set(context.Background(), "file-b", cfg, []byte("b"), nil)

	n, err := c.InvalidateByFile(context.Background(), "file-a")
	if err != nil {
		t.Fatalf("InvalidateByFile: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, ok, _ := c.Lookup(context.Background(), "file-b", cfg); !ok {
		t.Fatal("file-b entry should survive")
	}
}

func TestInvalidateByTagRemovesOnlyTagged(t *testing.T) {
	idx, blobs := newFakeIndex(), newFakeBlobs()
	c := New(idx, blobs, time.Hour)
	cfgA := testConfig()
	cfgB := testConfig()
	cfgB.ProviderID = "openai"
	_ = c.Set(context.Background(), "file-x", cfgA, []byte("a"), nil)
	_ = c.Set(context.Background(), "file-y", cfgB, []byte("b"), nil)

	n, err := c.InvalidateByTag(context.Background(), "provider:openai")
	if err != nil {
		t.Fatalf("InvalidateByTag: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, ok, _ := c.Lookup(context.Background(), "file-x", cfgA); !ok {
		t.Fatal("file-x entry should survive")
	}
}

func TestTTLForAppliesDepthMultiplier(t *testing.T) {
	c := New(newFakeIndex(), newFakeBlobs(), 24*time.Hour)
	if got := c.TTLFor(types.DepthBasic); got != 12*time.Hour {
		t.Fatalf("basic: expected 12h, got %v", got)
	}
	if got := c.TTLFor(types.DepthDeep); got != 72*time.Hour {
		t.Fatalf("deep: expected 72h, got %v", got)
	}
}
