package svc

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"linkvault/cfg"
	"linkvault/metrics"
	"linkvault/pkg/domain"
	"linkvault/svc/auth"
	"linkvault/svc/cache"
	"linkvault/svc/db"
	"linkvault/svc/store"
	"linkvault/svc/util"
)

// Paste implements the record lifecycle: create, view, download, delete,
// plus the burn queue that removes one-time and spent records after they
// have been served.
type Paste struct {
	db         *db.SQLite
	lru        *cache.LRU
	rdb        *db.Redis
	hasher     *auth.Hasher
	blobs      store.BlobStore
	local      *store.LocalStore
	candidates store.CandidateSource
	resolver   *store.Resolver
	cfg        *cfg.Cfg

	burnQueue   chan string
	burnWg      sync.WaitGroup
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
	shutdown    atomic.Bool
	opWg        sync.WaitGroup
}

type Deps struct {
	DB         *db.SQLite
	LRU        *cache.LRU
	Redis      *db.Redis
	Hasher     *auth.Hasher
	Blobs      store.BlobStore
	Local      *store.LocalStore
	Candidates store.CandidateSource
	Resolver   *store.Resolver
}

func NewPaste(d Deps, c *cfg.Cfg) *Paste {
	if d.DB == nil || d.LRU == nil || d.Hasher == nil || d.Blobs == nil || c == nil {
		panic("paste service: nil dependency (db, lru, hasher, blobs, or cfg)")
	}
	shutdownCtx, shutdownFn := context.WithCancel(context.Background())
	queueSize := c.BurnQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Paste{
		db:          d.DB,
		lru:         d.LRU,
		rdb:         d.Redis,
		hasher:      d.Hasher,
		blobs:       d.Blobs,
		local:       d.Local,
		candidates:  d.Candidates,
		resolver:    d.Resolver,
		cfg:         c,
		burnQueue:   make(chan string, queueSize),
		shutdownCtx: shutdownCtx,
		shutdownFn:  shutdownFn,
	}
	p.startBurnWorkers(4)
	return p
}

func (p *Paste) startBurnWorkers(n int) {
	for i := 0; i < n; i++ {
		p.burnWg.Add(1)
		go p.burnWorker()
	}
}

func (p *Paste) burnWorker() {
	defer p.burnWg.Done()
	defer func() {
		if r := recover(); r != nil {
			util.Error().Interface("panic", r).Msg("burnWorker panicked")
		}
	}()
	for id := range p.burnQueue {
		ctx, cancel := context.WithTimeout(p.shutdownCtx, 10*time.Second)
		paste, err := p.db.GetPaste(ctx, id)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidLink) && !errors.Is(err, context.Canceled) {
				util.Warn().Err(err).Str("id", id).Msg("burn lookup failed")
			}
			cancel()
			continue
		}
		if err := p.purge(ctx, paste); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("burn failed")
		} else {
			metrics.PasteBurned.Inc()
			util.Debug().Str("id", id).Msg("paste burned")
		}
		cancel()
	}
}

func (p *Paste) queueBurn(id string) {
	select {
	case p.burnQueue <- id:
	default:
		util.Warn().Str("id", id).Msg("burn queue full, dropping; reaper will collect")
	}
}

func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	close(p.burnQueue)
	done := make(chan struct{})
	go func() {
		p.burnWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("burn workers didn't stop in time")
	}
	p.shutdownFn()
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}

func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.CreateResult, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()

	if params.Text == "" && params.File == nil {
		return nil, domain.ErrContentRequired
	}
	if params.Text != "" && params.File != nil {
		return nil, domain.ErrContentConflict
	}
	if params.MaxViews < 0 {
		return nil, domain.ErrValidation
	}
	if params.File != nil {
		if params.File.Size > p.cfg.MaxFileSize {
			return nil, domain.ErrFileTooLarge
		}
		if !p.mimeAllowed(params.File.MimeType) {
			return nil, domain.ErrMimeNotAllowed
		}
	}
	now := time.Now()
	expiresAt, err := resolveExpiry(params, now, p.cfg.DefaultExpiry)
	if err != nil {
		return nil, err
	}

	id, err := util.GenID(func(id string) (bool, error) {
		return p.db.PasteExists(ctx, id)
	})
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}

	var pwHash string
	if params.Password != "" {
		pwHash, err = p.hasher.Hash(params.Password)
		if err != nil {
			return nil, errors.Wrap(err, "hash password")
		}
	}

	paste := &domain.Paste{
		ID:           id,
		PasswordHash: pwHash,
		MaxViews:     params.MaxViews,
		OneTimeView:  params.OneTimeView,
		OwnerID:      params.OwnerID,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}
	if params.File != nil {
		paste.Kind = domain.KindFile
		paste.FileName = store.SafeFileName(params.File.Name)
		paste.FileSize = params.File.Size
		paste.MimeType = params.File.MimeType
		obj, err := p.saveBlob(ctx, params.File)
		if err != nil {
			return nil, err
		}
		paste.LocalPath = obj.LocalPath
		paste.RemoteKey = obj.RemoteKey
		paste.RemoteURL = obj.RemoteURL
	} else {
		paste.Kind = domain.KindText
		paste.Content = params.Text
	}

	if err := p.db.CreatePaste(ctx, paste); err != nil {
		p.deleteObjects(ctx, paste)
		return nil, errors.Wrap(err, "create paste")
	}
	p.lru.Set(paste)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, time.Until(expiresAt)); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in redis")
		}
	}
	metrics.PasteCreated.WithLabelValues(string(paste.Kind)).Inc()
	util.Info().
		Str("id", id).
		Str("kind", string(paste.Kind)).
		Time("expires_at", expiresAt).
		Msg("paste created")
	return &domain.CreateResult{
		ID:        id,
		URL:       p.shareURL(id),
		ExpiresAt: expiresAt,
		Kind:      paste.Kind,
	}, nil
}

// saveBlob writes the upload through the configured store. With a remote
// primary and dual-write enabled, the body lands on local disk first and the
// remote copy is uploaded from that file, leaving a fallback copy behind.
func (p *Paste) saveBlob(ctx context.Context, up *domain.FileUpload) (*store.Object, error) {
	_, remotePrimary := p.blobs.(*store.S3Store)
	if !remotePrimary || !p.cfg.DualWriteLocal || p.local == nil {
		obj, err := p.blobs.Save(ctx, up)
		if err != nil {
			return nil, errors.WithMessage(domain.ErrUpload, err.Error())
		}
		return obj, nil
	}
	localObj, err := p.local.Save(ctx, up)
	if err != nil {
		return nil, errors.WithMessage(domain.ErrUpload, err.Error())
	}
	f, err := os.Open(localObj.LocalPath)
	if err != nil {
		p.local.Delete(ctx, *localObj)
		return nil, errors.WithMessage(domain.ErrUpload, err.Error())
	}
	defer f.Close()
	remoteObj, err := p.blobs.Save(ctx, &domain.FileUpload{
		Reader:   f,
		Name:     up.Name,
		Size:     up.Size,
		MimeType: up.MimeType,
	})
	if err != nil {
		p.local.Delete(ctx, *localObj)
		return nil, errors.WithMessage(domain.ErrUpload, err.Error())
	}
	remoteObj.LocalPath = localObj.LocalPath
	return remoteObj, nil
}

func (p *Paste) Get(ctx context.Context, id, password string) (*domain.View, error) {
	paste, views, err := p.gate(ctx, id, password)
	if err != nil {
		return nil, err
	}
	metrics.PasteViewed.Inc()
	view := paste.Project(views)
	// The reply is built entirely from the projection, so the one-time burn
	// may be queued once it is materialized.
	if paste.OneTimeView {
		p.queueBurn(paste.ID)
	}
	return view, nil
}

// Delivery is an open download stream plus the headers the caller needs to
// serve it. Body must be closed by the caller.
type Delivery struct {
	Paste  *domain.Paste
	Body   io.ReadCloser
	Length int64
	Source string
}

func (p *Paste) Download(ctx context.Context, id, password string) (*Delivery, error) {
	paste, _, err := p.gate(ctx, id, password)
	if err != nil {
		return nil, err
	}
	if paste.Kind != domain.KindFile {
		return nil, domain.ErrNotAFile
	}
	metrics.PasteViewed.Inc()

	var d *Delivery
	if paste.LocalPath != "" {
		f, err := os.Open(paste.LocalPath)
		if err == nil {
			metrics.FileDownloaded.WithLabelValues("local").Inc()
			d = &Delivery{Paste: paste, Body: f, Length: paste.FileSize, Source: "local"}
		} else {
			util.Warn().Err(err).Str("id", id).Msg("local copy unreadable, trying remote")
		}
	}
	if d == nil {
		if p.candidates == nil || p.resolver == nil {
			return nil, domain.ErrStorage
		}
		urls := p.candidates.Candidates(ctx, paste)
		if len(urls) == 0 {
			return nil, domain.ErrStorage
		}
		body, resp, err := p.resolver.OpenStream(ctx, urls)
		if err != nil {
			return nil, err
		}
		metrics.FileDownloaded.WithLabelValues("remote").Inc()
		length := paste.FileSize
		if resp.ContentLength > 0 {
			length = resp.ContentLength
		}
		d = &Delivery{Paste: paste, Body: body, Length: length, Source: "remote"}
	}
	// One-time records must survive until the stream has been served; the
	// burn fires when the caller closes the body.
	if paste.OneTimeView {
		d.Body = &burnAfterClose{ReadCloser: d.Body, svc: p, id: paste.ID}
	}
	return d, nil
}

// burnAfterClose queues the one-time burn only when the consumer closes the
// stream, after the response bytes have gone out.
type burnAfterClose struct {
	io.ReadCloser
	svc  *Paste
	id   string
	once sync.Once
}

func (b *burnAfterClose) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() { b.svc.queueBurn(b.id) })
	return err
}

// Delete removes a record on request. Owned records require the owner;
// password-protected anonymous records require the password; open anonymous
// records can be deleted by anyone holding the link.
func (p *Paste) Delete(ctx context.Context, id, requesterID, password string) error {
	paste, err := p.lookup(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case paste.OwnerID != "":
		if requesterID != paste.OwnerID {
			return domain.ErrNotOwner
		}
	case paste.PasswordHash != "":
		if password == "" {
			return domain.ErrPasswordRequired
		}
		match, _, err := p.hasher.Verify(password, paste.PasswordHash)
		if err != nil {
			return errors.Wrap(err, "verify password")
		}
		if !match {
			return domain.ErrInvalidPassword
		}
	}
	if err := p.purge(ctx, paste); err != nil {
		return err
	}
	util.Info().Str("id", id).Msg("paste deleted")
	return nil
}

// purge removes the record and every storage object behind it. Object
// deletion is best-effort; a failed remote delete is logged and the record
// still goes away so the link dies immediately.
func (p *Paste) purge(ctx context.Context, paste *domain.Paste) error {
	p.deleteObjects(ctx, paste)
	if err := p.db.DeletePaste(ctx, paste.ID); err != nil {
		return errors.Wrap(err, "delete record")
	}
	p.lru.Delete(paste.ID)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, paste.ID); err != nil {
			util.Warn().Err(err).Str("id", paste.ID).Msg("failed to delete from redis")
		}
	}
	return nil
}

func (p *Paste) deleteObjects(ctx context.Context, paste *domain.Paste) {
	obj := store.Object{
		LocalPath: paste.LocalPath,
		RemoteKey: paste.RemoteKey,
		RemoteURL: paste.RemoteURL,
	}
	if obj.RemoteKey != "" {
		if err := p.blobs.Delete(ctx, obj); err != nil {
			util.Warn().Err(err).Str("id", paste.ID).Msg("remote object delete failed")
		}
	}
	if obj.LocalPath != "" && p.local != nil {
		if err := p.local.Delete(ctx, obj); err != nil {
			util.Warn().Err(err).Str("id", paste.ID).Msg("local object delete failed")
		}
	}
}

func (p *Paste) mimeAllowed(mime string) bool {
	if len(p.cfg.AllowedMimeTypes) == 0 {
		return true
	}
	for _, allowed := range p.cfg.AllowedMimeTypes {
		if strings.EqualFold(allowed, mime) {
			return true
		}
		if strings.HasSuffix(allowed, "/*") &&
			strings.HasPrefix(strings.ToLower(mime), strings.ToLower(strings.TrimSuffix(allowed, "*"))) {
			return true
		}
	}
	return false
}

func (p *Paste) shareURL(id string) string {
	base := strings.TrimSuffix(p.cfg.FrontendURL, "/")
	if base == "" {
		return "/paste/" + id
	}
	return base + "/paste/" + id
}

// resolveExpiry turns the client's expiry request into an absolute deadline.
// An absolute timestamp wins over a relative duration; neither means the
// default lifetime applies.
func resolveExpiry(params domain.CreateParams, now time.Time, def time.Duration) (time.Time, error) {
	if params.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, params.ExpiresAt)
		if err != nil {
			return time.Time{}, domain.ErrInvalidExpiry
		}
		if !t.After(now) {
			return time.Time{}, domain.ErrExpiryInPast
		}
		return t, nil
	}
	if params.ExpiryMins < 0 {
		return time.Time{}, domain.ErrInvalidExpiry
	}
	if params.ExpiryMins > 0 {
		return now.Add(time.Duration(params.ExpiryMins) * time.Minute), nil
	}
	return now.Add(def), nil
}
