package svc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"linkvault/cfg"
	"linkvault/pkg/domain"
	"linkvault/svc/auth"
	"linkvault/svc/cache"
	"linkvault/svc/db"
	"linkvault/svc/store"
)

func testConfig(t *testing.T) *cfg.Cfg {
	t.Helper()
	return &cfg.Cfg{
		MaxFileSize:    1024 * 1024,
		DefaultExpiry:  10 * time.Minute,
		DualWriteLocal: false,
		FrontendURL:    "http://localhost:3000",
		BurnQueueSize:  64,
	}
}

func testService(t *testing.T) (*Paste, *db.SQLite) {
	t.Helper()
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	lru, err := cache.NewLRU(100)
	if err != nil {
		t.Fatal(err)
	}
	hasher, err := auth.NewHasher(1, 8*1024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := hasher.Start(2); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(hasher.Stop)
	local, err := store.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := NewPaste(Deps{
		DB:     sqlDB,
		LRU:    lru,
		Hasher: hasher,
		Blobs:  local,
		Local:  local,
	}, testConfig(t))
	t.Cleanup(p.Shutdown)
	return p, sqlDB
}

// waitGone polls until the burn workers have removed the record.
func waitGone(t *testing.T, sqlDB *db.SQLite, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		exists, err := sqlDB.PasteExists(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if !exists {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("record %s was never burned", id)
}

func TestCreateTextDefaults(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	before := time.Now()
	result, err := p.Create(ctx, domain.CreateParams{Text: "hello world"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.ID) != 10 {
		t.Errorf("unexpected id %q", result.ID)
	}
	if result.Kind != domain.KindText {
		t.Errorf("expected text kind, got %s", result.Kind)
	}
	if !strings.Contains(result.URL, result.ID) {
		t.Errorf("share url %q missing id", result.URL)
	}
	wantExpiry := before.Add(10 * time.Minute)
	if result.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || result.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expected default 10m expiry, got %v", result.ExpiresAt)
	}
}

func TestCreateValidation(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	file := &domain.FileUpload{Reader: strings.NewReader("x"), Name: "a.txt", Size: 1}

	cases := []struct {
		name   string
		params domain.CreateParams
		want   error
	}{
		{"empty", domain.CreateParams{}, domain.ErrContentRequired},
		{"both", domain.CreateParams{Text: "t", File: file}, domain.ErrContentConflict},
		{"negative expiry", domain.CreateParams{Text: "t", ExpiryMins: -1}, domain.ErrInvalidExpiry},
		{"negative max views", domain.CreateParams{Text: "t", MaxViews: -1}, domain.ErrValidation},
		{"bad timestamp", domain.CreateParams{Text: "t", ExpiresAt: "tomorrow"}, domain.ErrInvalidExpiry},
		{"past timestamp", domain.CreateParams{Text: "t", ExpiresAt: time.Now().Add(-time.Hour).Format(time.RFC3339)}, domain.ErrExpiryInPast},
		{"oversized file", domain.CreateParams{File: &domain.FileUpload{Reader: strings.NewReader("x"), Name: "big", Size: 2 * 1024 * 1024}}, domain.ErrFileTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Create(ctx, tc.params)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateAbsoluteExpiry(t *testing.T) {
	p, _ := testService(t)
	deadline := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	result, err := p.Create(context.Background(), domain.CreateParams{
		Text:       "t",
		ExpiryMins: 5,
		ExpiresAt:  deadline.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.ExpiresAt.Equal(deadline) {
		t.Errorf("absolute timestamp should win over minutes: got %v, want %v", result.ExpiresAt, deadline)
	}
}

func TestGetCountsViews(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{Text: "counted"})
	if err != nil {
		t.Fatal(err)
	}
	for want := 1; want <= 3; want++ {
		view, err := p.Get(ctx, result.ID, "")
		if err != nil {
			t.Fatal(err)
		}
		if view.Views != want {
			t.Errorf("expected %d views, got %d", want, view.Views)
		}
		if view.Content != "counted" {
			t.Errorf("content mangled: %q", view.Content)
		}
	}
}

func TestGetUnknownID(t *testing.T) {
	p, _ := testService(t)
	_, err := p.Get(context.Background(), "doesnotexi", "")
	if !errors.Is(err, domain.ErrInvalidLink) {
		t.Errorf("expected ErrInvalidLink, got %v", err)
	}
}

func TestViewLimit(t *testing.T) {
	p, sqlDB := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{Text: "limited", MaxViews: 2})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Get(ctx, result.ID, ""); err != nil {
			t.Fatal(err)
		}
	}
	// The record must survive its last allowed view; only the over-limit
	// access reports the exhausted budget.
	time.Sleep(100 * time.Millisecond)
	exists, err := sqlDB.PasteExists(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("record burned on its last allowed view")
	}
	if _, err := p.Get(ctx, result.ID, ""); !errors.Is(err, domain.ErrViewLimitExceeded) {
		t.Fatalf("over-limit read must report the view limit, got %v", err)
	}
	waitGone(t, sqlDB, result.ID)
}

func TestOneTimeView(t *testing.T) {
	p, sqlDB := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{Text: "once", OneTimeView: true})
	if err != nil {
		t.Fatal(err)
	}
	view, err := p.Get(ctx, result.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if view.Content != "once" {
		t.Errorf("first view mangled: %q", view.Content)
	}
	waitGone(t, sqlDB, result.ID)
}

func TestPasswordGate(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{Text: "secret text", Password: "letmein", MaxViews: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, result.ID, ""); !errors.Is(err, domain.ErrPasswordRequired) {
		t.Errorf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := p.Get(ctx, result.ID, "wrong"); !errors.Is(err, domain.ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
	// Failed attempts must not have consumed the single view.
	view, err := p.Get(ctx, result.ID, "letmein")
	if err != nil {
		t.Fatal(err)
	}
	if view.Views != 1 {
		t.Errorf("wrong guesses consumed views: %d", view.Views)
	}
	if view.Content != "secret text" {
		t.Errorf("content mangled: %q", view.Content)
	}
}

func TestExpiredRecordGone(t *testing.T) {
	p, sqlDB := testService(t)
	ctx := context.Background()
	now := time.Now()
	expired := &domain.Paste{
		ID:        "expiredrec",
		Kind:      domain.KindText,
		Content:   "old",
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	}
	if err := sqlDB.CreatePaste(ctx, expired); err != nil {
		t.Fatal(err)
	}
	_, err := p.Get(ctx, expired.ID, "")
	if !errors.Is(err, domain.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
	waitGone(t, sqlDB, expired.ID)
}

func TestDownloadTextRejected(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{Text: "not a file"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Download(ctx, result.ID, "")
	if !errors.Is(err, domain.ErrNotAFile) {
		t.Errorf("expected ErrNotAFile, got %v", err)
	}
}

func TestDownloadLocalFile(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	body := "binary file contents"
	result, err := p.Create(ctx, domain.CreateParams{
		File: &domain.FileUpload{
			Reader:   strings.NewReader(body),
			Name:     "data.bin",
			Size:     int64(len(body)),
			MimeType: "application/octet-stream",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	delivery, err := p.Download(ctx, result.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	defer delivery.Body.Close()
	if delivery.Source != "local" {
		t.Errorf("expected local delivery, got %s", delivery.Source)
	}
	data, err := io.ReadAll(delivery.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Errorf("body mangled: %q", data)
	}
	if delivery.Paste.FileName != "data.bin" {
		t.Errorf("file name lost: %q", delivery.Paste.FileName)
	}
}

// fakeRemote is a remote blob store whose objects become unreachable the
// moment Delete runs, like a real bucket would behave.
type fakeRemote struct {
	srv     *httptest.Server
	deleted atomic.Bool
	body    []byte
}

func newFakeRemote(t *testing.T, body string) *fakeRemote {
	t.Helper()
	f := &fakeRemote{body: []byte(body)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.deleted.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(f.body)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRemote) Save(ctx context.Context, up *domain.FileUpload) (*store.Object, error) {
	if _, err := io.Copy(io.Discard, up.Reader); err != nil {
		return nil, err
	}
	return &store.Object{
		RemoteKey: "objects/" + up.Name,
		RemoteURL: f.srv.URL + "/objects/" + up.Name,
	}, nil
}

func (f *fakeRemote) Delete(ctx context.Context, obj store.Object) error {
	f.deleted.Store(true)
	return nil
}

func (f *fakeRemote) Candidates(ctx context.Context, p *domain.Paste) []string {
	return []string{p.RemoteURL}
}

// The single permitted download of a one-time remote file must be served in
// full; the burn may remove the object only after the stream is closed.
func TestOneTimeRemoteDownloadServedBeforeBurn(t *testing.T) {
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	lru, err := cache.NewLRU(100)
	if err != nil {
		t.Fatal(err)
	}
	hasher, err := auth.NewHasher(1, 8*1024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := hasher.Start(2); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(hasher.Stop)
	body := "remote one-time payload"
	remote := newFakeRemote(t, body)
	p := NewPaste(Deps{
		DB:         sqlDB,
		LRU:        lru,
		Hasher:     hasher,
		Blobs:      remote,
		Candidates: remote,
		Resolver:   store.NewResolver(),
	}, testConfig(t))
	t.Cleanup(p.Shutdown)

	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{
		File: &domain.FileUpload{
			Reader: strings.NewReader(body),
			Name:   "once.bin",
			Size:   int64(len(body)),
		},
		OneTimeView: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	delivery, err := p.Download(ctx, result.ID, "")
	if err != nil {
		t.Fatalf("the only permitted download failed: %v", err)
	}
	if delivery.Source != "remote" {
		t.Errorf("expected remote delivery, got %s", delivery.Source)
	}
	data, err := io.ReadAll(delivery.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Errorf("body mangled: %q", data)
	}
	delivery.Body.Close()
	waitGone(t, sqlDB, result.ID)
	if !remote.deleted.Load() {
		t.Error("remote object survived the burn")
	}
}

func TestOneTimeFileBurnedWithObject(t *testing.T) {
	p, sqlDB := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{
		File:        &domain.FileUpload{Reader: strings.NewReader("x"), Name: "once.txt", Size: 1},
		OneTimeView: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	delivery, err := p.Download(ctx, result.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, delivery.Body)
	delivery.Body.Close()
	waitGone(t, sqlDB, result.ID)
}

func TestDeleteOwnership(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{Text: "owned", OwnerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Delete(ctx, result.ID, "mallory", ""); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := p.Delete(ctx, result.ID, "", ""); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("anonymous delete of owned paste should fail, got %v", err)
	}
	if err := p.Delete(ctx, result.ID, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, result.ID, ""); !errors.Is(err, domain.ErrInvalidLink) {
		t.Errorf("deleted paste still accessible: %v", err)
	}
}

func TestDeletePasswordProtected(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{Text: "guarded", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Delete(ctx, result.ID, "", ""); !errors.Is(err, domain.ErrPasswordRequired) {
		t.Errorf("expected ErrPasswordRequired, got %v", err)
	}
	if err := p.Delete(ctx, result.ID, "", "wrong"); !errors.Is(err, domain.ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
	if err := p.Delete(ctx, result.ID, "", "pw"); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteOpenAnonymous(t *testing.T) {
	p, _ := testService(t)
	ctx := context.Background()
	result, err := p.Create(ctx, domain.CreateParams{Text: "open"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Delete(ctx, result.ID, "", ""); err != nil {
		t.Fatal(err)
	}
}

func TestReapExpired(t *testing.T) {
	p, sqlDB := testService(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"reapme0001", "reapme0002"} {
		err := sqlDB.CreatePaste(ctx, &domain.Paste{
			ID:        id,
			Kind:      domain.KindText,
			Content:   "stale",
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(-time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	live, err := p.Create(ctx, domain.CreateParams{Text: "alive"})
	if err != nil {
		t.Fatal(err)
	}
	if reaped := p.reapExpired(ctx); reaped != 2 {
		t.Errorf("expected 2 reaped, got %d", reaped)
	}
	exists, err := sqlDB.PasteExists(ctx, live.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("reaper removed a live record")
	}
}

func TestResolveExpiry(t *testing.T) {
	now := time.Now()
	def := 10 * time.Minute

	got, err := resolveExpiry(domain.CreateParams{}, now, def)
	if err != nil || !got.Equal(now.Add(def)) {
		t.Errorf("default expiry wrong: %v, %v", got, err)
	}
	got, err = resolveExpiry(domain.CreateParams{ExpiryMins: 45}, now, def)
	if err != nil || !got.Equal(now.Add(45*time.Minute)) {
		t.Errorf("relative expiry wrong: %v, %v", got, err)
	}
	if _, err := resolveExpiry(domain.CreateParams{ExpiresAt: "not-a-time"}, now, def); !errors.Is(err, domain.ErrInvalidExpiry) {
		t.Errorf("expected ErrInvalidExpiry, got %v", err)
	}
}
