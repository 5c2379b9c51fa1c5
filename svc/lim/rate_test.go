package lim

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func request(remoteAddr, xff string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/upload", nil)
	r.RemoteAddr = remoteAddr
	if xff != "" {
		r.Header.Set("X-Forwarded-For", xff)
	}
	return r
}

func TestCheckLimitAllowsWithinBurst(t *testing.T) {
	l := New(60, 3, nil)
	defer l.Stop()
	r := request("192.0.2.1:1234", "")
	for i := 0; i < 3; i++ {
		res := l.CheckLimit(r, "upload")
		if !res.Allowed {
			t.Fatalf("request %d denied within burst", i+1)
		}
		if res.Limit != 60 {
			t.Errorf("limit header value = %d, want 60", res.Limit)
		}
	}
	if res := l.CheckLimit(r, "upload"); res.Allowed {
		t.Error("fourth request should exceed the burst")
	}
}

func TestLimitsAreKeyedPerIPAndEndpoint(t *testing.T) {
	l := New(60, 1, nil)
	defer l.Stop()

	a := request("192.0.2.1:1234", "")
	b := request("192.0.2.2:1234", "")
	if !l.CheckLimit(a, "upload").Allowed {
		t.Fatal("first request denied")
	}
	if l.CheckLimit(a, "upload").Allowed {
		t.Error("same client should be throttled")
	}
	if !l.CheckLimit(b, "upload").Allowed {
		t.Error("a different client must not share the bucket")
	}
	if !l.CheckLimit(a, "download").Allowed {
		t.Error("a different endpoint must not share the bucket")
	}
}

func TestGetRealIPIgnoresXFFWithoutTrustedProxies(t *testing.T) {
	r := request("192.0.2.1:1234", "198.51.100.7")
	if ip := GetRealIP(r, nil); ip != "192.0.2.1" {
		t.Errorf("got %s, want the socket address", ip)
	}
}

func TestGetRealIPWalksPastTrustedProxies(t *testing.T) {
	trusted := []string{"10.0.0.0/8"}

	// Untrusted socket peer: header is spoofable, use the peer.
	r := request("192.0.2.1:1234", "198.51.100.7")
	if ip := GetRealIP(r, trusted); ip != "192.0.2.1" {
		t.Errorf("untrusted peer: got %s", ip)
	}

	// Trusted peer, one hop: the client is the last XFF entry.
	r = request("10.0.0.5:1234", "198.51.100.7")
	if ip := GetRealIP(r, trusted); ip != "198.51.100.7" {
		t.Errorf("one hop: got %s", ip)
	}

	// Trusted peer, chain of proxies: walk right to left past trusted hops.
	r = request("10.0.0.5:1234", "198.51.100.7, 10.0.0.9, 10.0.0.3")
	if ip := GetRealIP(r, trusted); ip != "198.51.100.7" {
		t.Errorf("chained: got %s", ip)
	}

	// Garbage entries are skipped, not trusted.
	r = request("10.0.0.5:1234", "198.51.100.7, not-an-ip")
	if ip := GetRealIP(r, trusted); ip != "198.51.100.7" {
		t.Errorf("garbage entry: got %s", ip)
	}

	// Entirely trusted chain falls back to the socket peer.
	r = request("10.0.0.5:1234", "10.0.0.9")
	if ip := GetRealIP(r, trusted); ip != "10.0.0.5" {
		t.Errorf("all trusted: got %s", ip)
	}
}

func TestNewPanicsOnBadProxyConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on malformed CIDR")
		}
	}()
	New(60, 1, []string{"10.0.0.0/99"})
}

func TestStripPort(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1:8080": "192.0.2.1",
		"192.0.2.1":      "192.0.2.1",
		"[::1]:8080":     "::1",
	}
	for in, want := range cases {
		if got := stripPort(in); got != want {
			t.Errorf("stripPort(%q) = %q, want %q", in, got, want)
		}
	}
}
