package cfg

import (
	"strings"
	"testing"
	"time"
)

func validCfg() *Cfg {
	return &Cfg{
		Port:              "8080",
		Environment:       "development",
		DatabasePath:      "test.db",
		UploadDir:         "./uploads",
		MaxFileSize:       10 * 1024 * 1024,
		DefaultExpiry:     10 * time.Minute,
		StorageProvider:   ProviderLocal,
		SignedURLTTL:      5 * time.Minute,
		JWTSecret:         NewSecret(strings.Repeat("s", 32)),
		LRUCacheSize:      1000,
		Argon2Time:        4,
		Argon2Memory:      64 * 1024,
		Argon2Parallelism: 2,
		RateLimit:         RateLimitCfg{RPM: 60, Burst: 10},
		ReaperInterval:    time.Minute,
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != "8080" {
		t.Errorf("default port: got %s", c.Port)
	}
	if c.DefaultExpiry != 10*time.Minute {
		t.Errorf("default expiry: got %v", c.DefaultExpiry)
	}
	if c.MaxFileSize != 10*1024*1024 {
		t.Errorf("default max file size: got %d", c.MaxFileSize)
	}
	if !c.DualWriteLocal {
		t.Error("dual-write should default on")
	}
	if c.StorageProvider != ProviderLocal {
		t.Errorf("default provider: got %s", c.StorageProvider)
	}
	if c.ReaperInterval != time.Minute {
		t.Errorf("default reaper interval: got %v", c.ReaperInterval)
	}
}

func TestLoadExpiryOverride(t *testing.T) {
	t.Setenv("DEFAULT_EXPIRY_MINUTES", "30")
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.DefaultExpiry != 30*time.Minute {
		t.Errorf("expected 30m, got %v", c.DefaultExpiry)
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := Validate(validCfg()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Cfg)
	}{
		{"bad port", func(c *Cfg) { c.Port = "nope" }},
		{"empty db path", func(c *Cfg) { c.DatabasePath = "" }},
		{"zero max file size", func(c *Cfg) { c.MaxFileSize = 0 }},
		{"oversized max file size", func(c *Cfg) { c.MaxFileSize = 200 * 1024 * 1024 }},
		{"sub-minute default expiry", func(c *Cfg) { c.DefaultExpiry = 10 * time.Second }},
		{"unknown provider", func(c *Cfg) { c.StorageProvider = "ftp" }},
		{"s3 without bucket", func(c *Cfg) { c.StorageProvider = ProviderS3; c.S3Bucket = "" }},
		{"short jwt secret", func(c *Cfg) { c.JWTSecret = NewSecret("short") }},
		{"bad redis scheme", func(c *Cfg) { c.RedisURL = "http://localhost:6379" }},
		{"rediss without tls", func(c *Cfg) { c.RedisURL = "rediss://h:6379"; c.RedisTLS = false }},
		{"bad trusted proxy", func(c *Cfg) { c.TrustedProxies = []string{"999.1.2.3"} }},
		{"fast reaper", func(c *Cfg) { c.ReaperInterval = time.Second }},
		{"metrics creds required in prod", func(c *Cfg) { c.Environment = "production" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCfg()
			tc.mutate(c)
			if err := Validate(c); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateS3WithBucket(t *testing.T) {
	c := validCfg()
	c.StorageProvider = ProviderS3
	c.S3Bucket = "linkvault-test"
	if err := Validate(c); err != nil {
		t.Fatalf("s3 config rejected: %v", err)
	}
}

func TestSecretRedaction(t *testing.T) {
	s := NewSecret("hunter2hunter2")
	if s.String() != "***REDACTED***" {
		t.Errorf("secret leaked through String: %s", s.String())
	}
	if s.Value() != "hunter2hunter2" {
		t.Error("Value should return the raw secret")
	}
	s.Wipe()
	if strings.ContainsRune(s.Value(), 'h') {
		t.Error("Wipe left secret bytes behind")
	}
}
