package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"linkvault/cfg"
	"linkvault/pkg/domain"
)

// Redis is an optional shared record cache in front of SQLite. Records are
// cached with their remaining TTL so the cache can never outlive the record.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(redisURL string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 5
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig()
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{
		client:  client,
		timeout: c.RedisTimeout,
	}, nil
}

func buildRedisTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
	}
	redisHostname := os.Getenv("REDIS_HOSTNAME")
	if redisHostname == "" {
		return nil, fmt.Errorf("REDIS_HOSTNAME must be set when REDIS_TLS=true")
	}
	tlsConfig.ServerName = redisHostname
	certPath := os.Getenv("REDIS_TLS_CA_CERT")
	if certPath != "" {
		caCert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read Redis CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append Redis CA cert to pool")
		}
		tlsConfig.RootCAs = certPool
	} else {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system cert pool: %w", err)
		}
		tlsConfig.RootCAs = systemPool
	}
	return tlsConfig, nil
}

// cachedPaste is the cache wire form. domain.Paste hides its credential and
// locator fields from API JSON, so the cache marshals its own shape carrying
// every field a gated read needs back.
type cachedPaste struct {
	ID           string      `json:"id"`
	Kind         domain.Kind `json:"kind"`
	Content      string      `json:"content,omitempty"`
	FileName     string      `json:"file_name,omitempty"`
	FileSize     int64       `json:"file_size,omitempty"`
	MimeType     string      `json:"mime_type,omitempty"`
	LocalPath    string      `json:"local_path,omitempty"`
	RemoteKey    string      `json:"remote_key,omitempty"`
	RemoteURL    string      `json:"remote_url,omitempty"`
	PasswordHash string      `json:"password_hash,omitempty"`
	MaxViews     int         `json:"max_views,omitempty"`
	Views        int         `json:"views"`
	OneTimeView  bool        `json:"one_time_view"`
	OwnerID      string      `json:"owner_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

func toCached(p *domain.Paste) *cachedPaste {
	return &cachedPaste{
		ID:           p.ID,
		Kind:         p.Kind,
		Content:      p.Content,
		FileName:     p.FileName,
		FileSize:     p.FileSize,
		MimeType:     p.MimeType,
		LocalPath:    p.LocalPath,
		RemoteKey:    p.RemoteKey,
		RemoteURL:    p.RemoteURL,
		PasswordHash: p.PasswordHash,
		MaxViews:     p.MaxViews,
		Views:        p.Views,
		OneTimeView:  p.OneTimeView,
		OwnerID:      p.OwnerID,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
	}
}

func (c *cachedPaste) toDomain() *domain.Paste {
	return &domain.Paste{
		ID:           c.ID,
		Kind:         c.Kind,
		Content:      c.Content,
		FileName:     c.FileName,
		FileSize:     c.FileSize,
		MimeType:     c.MimeType,
		LocalPath:    c.LocalPath,
		RemoteKey:    c.RemoteKey,
		RemoteURL:    c.RemoteURL,
		PasswordHash: c.PasswordHash,
		MaxViews:     c.MaxViews,
		Views:        c.Views,
		OneTimeView:  c.OneTimeView,
		OwnerID:      c.OwnerID,
		CreatedAt:    c.CreatedAt,
		ExpiresAt:    c.ExpiresAt,
	}
}

func (r *Redis) CachePaste(ctx context.Context, p *domain.Paste, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(toCached(p))
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	return errors.Wrap(r.client.Set(ctx, "paste:"+p.ID, data, ttl).Err(), "set paste")
}

func (r *Redis) GetPaste(ctx context.Context, id string) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, "paste:"+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	var c cachedPaste
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal paste")
	}
	return c.toDomain(), nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, "paste:"+id).Err(); err != nil {
		return errors.Wrap(err, "delete paste")
	}
	return nil
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
