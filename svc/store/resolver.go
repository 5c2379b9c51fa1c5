package store

import (
	"context"
	"io"
	"net/http"
	"time"

	"linkvault/metrics"
	"linkvault/pkg/domain"
	"linkvault/svc/util"
)

const (
	maxRedirects = 5
	probeTimeout = 10 * time.Second
	downloaderUA = "LinkVault-Downloader"
)

// Resolver probes candidate URLs for a remote-backed record and opens the
// first one that answers. Some backends reject HEAD and Range requests
// differently per URL form, so each candidate is probed with a one-byte
// ranged GET before committing to a full stream.
type Resolver struct {
	client *http.Client
}

func NewResolver() *Resolver {
	return &Resolver{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Probe issues a ranged GET for the first byte. A 2xx means the candidate
// is servable in full.
func (r *Resolver) Probe(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")
	req.Header.Set("User-Agent", downloaderUA)
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// FirstAccessible returns the first candidate that passes a probe, or ""
// when none do.
func (r *Resolver) FirstAccessible(ctx context.Context, urls []string) string {
	for _, u := range urls {
		if r.Probe(ctx, u) {
			return u
		}
		metrics.RemoteProbeFailures.Inc()
		util.Debug().Str("url", util.RedactURL(u)).Msg("candidate probe failed")
	}
	return ""
}

// OpenStream opens a full-body GET against the candidates in order. An
// auth-shaped rejection (401, 403, 404) moves on to the next candidate;
// any other non-2xx answer or an exhausted list is a storage failure.
func (r *Resolver) OpenStream(ctx context.Context, urls []string) (io.ReadCloser, *http.Response, error) {
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			continue
		}
		req.Header.Set("User-Agent", downloaderUA)
		resp, err := r.client.Do(req)
		if err != nil {
			util.Warn().Err(err).Str("url", util.RedactURL(u)).Msg("remote fetch failed")
			metrics.RemoteProbeFailures.Inc()
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.Body, resp, nil
		}
		resp.Body.Close()
		metrics.RemoteProbeFailures.Inc()
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			util.Debug().Int("status", resp.StatusCode).Str("url", util.RedactURL(u)).Msg("candidate rejected, trying next")
			continue
		default:
			util.Warn().Int("status", resp.StatusCode).Str("url", util.RedactURL(u)).Msg("remote returned unexpected status")
			return nil, nil, domain.ErrStorage
		}
	}
	return nil, nil, domain.ErrStorage
}
