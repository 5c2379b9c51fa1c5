package util

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestGenIDShape(t *testing.T) {
	id, err := GenID(func(string) (bool, error) { return false, nil })
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 10 {
		t.Errorf("expected 10-char id, got %d chars: %q", len(id), id)
	}
	for _, r := range id {
		if !strings.ContainsRune(base62Chars, r) {
			t.Errorf("id %q contains non-base62 rune %q", id, r)
		}
	}
}

func TestGenIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := GenID(func(string) (bool, error) { return false, nil })
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id after %d generations: %s", i, id)
		}
		seen[id] = true
	}
}

func TestGenIDRetriesOnCollision(t *testing.T) {
	calls := 0
	id, err := GenID(func(string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected id after retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 existence checks, got %d", calls)
	}
}

func TestGenIDGivesUpAfterRetries(t *testing.T) {
	_, err := GenID(func(string) (bool, error) { return true, nil })
	if err == nil {
		t.Fatal("expected error when every id collides")
	}
}

func TestGenIDPropagatesCheckError(t *testing.T) {
	boom := errors.New("db down")
	_, err := GenID(func(string) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected check error to propagate, got %v", err)
	}
}
