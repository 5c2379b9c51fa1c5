package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkvault_paste_created_total",
			Help: "no. of pastes created",
		},
		[]string{"kind"},
	)
	PasteViewed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_paste_viewed_total",
		Help: "no. of pastes viewed",
	})
	FileDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkvault_file_downloaded_total",
			Help: "no. of file downloads by delivery source",
		},
		[]string{"source"},
	)
	PasteBurned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_paste_burned_total",
		Help: "no. of one-time pastes burned after delivery",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_cache_misses_total",
		Help: "no. of cache misses",
	})
	ReapCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_reap_cycles_total",
		Help: "no. of reaper cycles",
	})
	ReapedPastes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_reaped_pastes_total",
		Help: "no. of expired pastes removed by the reaper",
	})
	RemoteProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_remote_probe_failures_total",
		Help: "no. of remote candidate URLs that failed a probe or fetch",
	})
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkvault_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkvault_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)
