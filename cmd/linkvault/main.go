package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"linkvault/cfg"
	"linkvault/pkg/secrets"
	"linkvault/svc/api"
	"linkvault/svc/auth"
	"linkvault/svc/cache"
	"linkvault/svc/db"
	"linkvault/svc/lim"
	"linkvault/svc/store"
	"linkvault/svc/svc"
	"linkvault/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		healthCheck()
		return
	}

	godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting linkvault API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secretStore, err := secrets.NewAdapter(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize secret store")
		os.Exit(1)
	}
	secretCache := secrets.NewCache(secretStore, 5*time.Minute)

	if c.JWTSecretFromStore {
		jwtSecret, err := secretCache.GetSecret(ctx, "JWT_SECRET")
		if err != nil {
			util.Fatal().Err(err).Msg("failed to load JWT secret from store")
			os.Exit(1)
		}
		c.JWTSecret = cfg.NewSecret(jwtSecret)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}
	if err := hasher.Start(c.HasherWorkerCount); err != nil {
		util.Fatal().Err(err).Msg("failed to start hasher")
		os.Exit(1)
	}
	defer hasher.Stop()
	util.Info().Int("workers", c.HasherWorkerCount).Msg("hasher initialized")

	jwtManager, err := auth.NewJWTManager(c.JWTSecret.Value(), c.JWTTTL)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize JWT manager")
		os.Exit(1)
	}

	localStore, err := store.NewLocalStore(c.UploadDir)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize local store")
		os.Exit(1)
	}
	deps := svc.Deps{
		DB:     sqlDB,
		LRU:    lruCache,
		Redis:  rdb,
		Hasher: hasher,
		Blobs:  localStore,
		Local:  localStore,
	}
	if c.StorageProvider == cfg.ProviderS3 {
		s3Store, err := store.NewS3Store(ctx, c)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize S3 store")
			os.Exit(1)
		}
		deps.Blobs = s3Store
		deps.Candidates = s3Store
		deps.Resolver = store.NewResolver()
		util.Info().Str("bucket", c.S3Bucket).Msg("S3 store initialized")
	}

	pasteSvc := svc.NewPaste(deps, c)
	usersSvc := svc.NewUsers(sqlDB, hasher, jwtManager)
	util.Info().Str("provider", c.StorageProvider).Msg("paste service initialized")

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, usersSvc, jwtManager, limiter, sqlDB, rdb)

	quitWAL := make(chan struct{})
	go db.StartWALMaintenance(sqlDB.DB(), quitWAL)
	util.Info().Msg("WAL maintenance worker started")

	if err := svc.StartReaper(ctx, pasteSvc, c.ReaperInterval); err != nil {
		util.Error().Err(err).Msg("failed to start reaper")
	}

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	close(quitWAL)
	cancel()
	pasteSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}

func healthCheck() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
	os.Exit(0)
}
