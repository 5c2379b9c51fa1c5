package cache

import (
	"context"
	"testing"
	"time"

	"linkvault/pkg/domain"
)

func testRecord(id string, expiresIn time.Duration) *domain.Paste {
	now := time.Now()
	return &domain.Paste{
		ID:        id,
		Kind:      domain.KindText,
		Content:   "cached",
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	}
}

func TestSetAndGet(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	l.Set(testRecord("a", time.Hour))
	got := l.Get(context.Background(), "a")
	if got == nil || got.Content != "cached" {
		t.Errorf("cache miss for live record: %+v", got)
	}
}

func TestExpiredEntryNotServed(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	p := testRecord("b", 20 * time.Millisecond)
	l.Set(p)
	if l.Get(context.Background(), "b") == nil {
		t.Fatal("record should be served before expiry")
	}
	time.Sleep(30 * time.Millisecond)
	if l.Get(context.Background(), "b") != nil {
		t.Error("expired record served from cache")
	}
}

func TestSetRefusesExpired(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	l.Set(testRecord("c", -time.Minute))
	if l.Get(context.Background(), "c") != nil {
		t.Error("already-expired record cached")
	}
}

func TestDelete(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	l.Set(testRecord("d", time.Hour))
	l.Delete("d")
	if l.Get(context.Background(), "d") != nil {
		t.Error("record survived delete")
	}
}

func TestEviction(t *testing.T) {
	l, err := NewLRU(2)
	if err != nil {
		t.Fatal(err)
	}
	l.Set(testRecord("e1", time.Hour))
	l.Set(testRecord("e2", time.Hour))
	l.Set(testRecord("e3", time.Hour))
	if l.Get(context.Background(), "e1") != nil {
		t.Error("oldest entry should have been evicted")
	}
	if l.Get(context.Background(), "e3") == nil {
		t.Error("newest entry missing")
	}
}

func TestNewLRUValidation(t *testing.T) {
	if _, err := NewLRU(0); err == nil {
		t.Error("zero size accepted")
	}
	if _, err := NewLRU(1000001); err == nil {
		t.Error("oversized cache accepted")
	}
}
