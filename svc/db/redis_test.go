package db

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"linkvault/pkg/domain"
)

// The API JSON form of domain.Paste hides credentials and locators; the
// cache wire form must not. Every field has to survive the round trip or a
// record served from the cache loses its gating.
func TestCacheFormKeepsHiddenFields(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	p := &domain.Paste{
		ID:           "cachedrec1",
		Kind:         domain.KindFile,
		FileName:     "report.pdf",
		FileSize:     2048,
		MimeType:     "application/pdf",
		LocalPath:    "/uploads/report.pdf",
		RemoteKey:    "pastes/2026/08/29/abc-report.pdf",
		RemoteURL:    "https://bucket.example.com/pastes/abc-report.pdf",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		MaxViews:     3,
		Views:        1,
		OneTimeView:  true,
		OwnerID:      "user-1",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}

	data, err := json.Marshal(toCached(p))
	if err != nil {
		t.Fatal(err)
	}
	var c cachedPaste
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatal(err)
	}
	got := c.toDomain()
	if got.PasswordHash == "" || got.LocalPath == "" || got.RemoteKey == "" || got.OwnerID == "" {
		t.Fatalf("cache round trip lost gating fields: %+v", got)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("cache round trip mutated the record:\ngot  %+v\nwant %+v", got, p)
	}
}

func TestCacheFormTextRecord(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	p := &domain.Paste{
		ID:        "cachedrec2",
		Kind:      domain.KindText,
		Content:   "a<b & \"quotes\"",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
	data, err := json.Marshal(toCached(p))
	if err != nil {
		t.Fatal(err)
	}
	var c cachedPaste
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatal(err)
	}
	if got := c.toDomain(); !reflect.DeepEqual(got, p) {
		t.Errorf("cache round trip mutated the record:\ngot  %+v\nwant %+v", got, p)
	}
}
