package blobstore

import (
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Put("result:abc123", []byte(`{"success":true}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, ok, err := store.Get("result:abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected blob to be present")
	}
	if string(data) != `{"success":true}` {
		t.Fatalf("unexpected payload: %s", data)
	}
}

func TestGetMissingKeyIsAbsent(t *testing.T) {
	store, _ := New(t.TempDir())
	_, ok, err := store.Get("nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected absent blob")
	}
}

func TestExpiryReclaimedOnRead(t *testing.T) {
	store, _ := New(t.TempDir())
	if err := store.Put("ephemeral", []byte("x"), time.Nanosecond); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	_, ok, err := store.Get("ephemeral")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected expired blob to be reported absent")
	}
}

func TestKeyTooLongRejected(t *testing.T) {
	store, _ := New(t.TempDir())
	big := make([]byte, MaxKeyLength+1)
	for i := range big {
		big[i] = 'a'
	}
	if err := store.Put(string(big), []byte("x"), time.Hour); err == nil {
		t.Fatal("expected oversized key to be rejected")
	}
}

func TestSweepReclaimsExpired(t *testing.T) {
	store, _ := New(t.TempDir())
	if err := store.Put("stale", []byte("x"), time.Nanosecond); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put("fresh", []byte("x"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	n, err := store.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", n)
	}
	if _, ok, _ := store.Get("fresh"); !ok {
		t.Fatal("fresh key should survive sweep")
	}
}

func TestListReturnsLiveKeysByPrefix(t *testing.T) {
	store, _ := New(t.TempDir())
	_ = store.Put("result:a", []byte("1"), time.Hour)
	_ = store.Put("result:b", []byte("2"), time.Hour)
	_ = store.Put("input:c", []byte("3"), time.Hour)

	keys, err := store.List("result:")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}
