package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"

	"linkvault/pkg/domain"
)

func TestProbeSendsRangedGet(t *testing.T) {
	var gotRange, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotMethod = r.Method
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	r := NewResolver()
	if !r.Probe(context.Background(), srv.URL) {
		t.Error("probe should succeed against a 206")
	}
	if gotMethod != http.MethodGet {
		t.Errorf("expected GET, got %s", gotMethod)
	}
	if gotRange != "bytes=0-0" {
		t.Errorf("expected one-byte range, got %q", gotRange)
	}
}

func TestProbeRejectsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	r := NewResolver()
	if r.Probe(context.Background(), srv.URL) {
		t.Error("probe should fail on 403")
	}
	if r.Probe(context.Background(), "http://127.0.0.1:0/unreachable") {
		t.Error("probe should fail on connection error")
	}
}

func TestFirstAccessibleOrder(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	r := NewResolver()
	got := r.FirstAccessible(context.Background(), []string{bad.URL, good.URL})
	if got != good.URL {
		t.Errorf("expected %s, got %s", good.URL, got)
	}
	if r.FirstAccessible(context.Background(), []string{bad.URL}) != "" {
		t.Error("expected empty result when no candidate answers")
	}
}

func TestOpenStreamFallsThroughAuthErrors(t *testing.T) {
	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer denied.Close()
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer missing.Close()
	serving := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("the file body"))
	}))
	defer serving.Close()

	r := NewResolver()
	body, resp, err := r.OpenStream(context.Background(), []string{denied.URL, missing.URL, serving.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "the file body" {
		t.Errorf("body mangled: %q", data)
	}
}

func TestOpenStreamStopsOnUnexpectedStatus(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	never := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("candidate after a hard failure must not be tried")
	}))
	defer never.Close()

	r := NewResolver()
	_, _, err := r.OpenStream(context.Background(), []string{broken.URL, never.URL})
	if !errors.Is(err, domain.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestOpenStreamExhausted(t *testing.T) {
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer gone.Close()
	r := NewResolver()
	_, _, err := r.OpenStream(context.Background(), []string{gone.URL, gone.URL})
	if !errors.Is(err, domain.ErrStorage) {
		t.Errorf("expected ErrStorage when every candidate fails, got %v", err)
	}
}

func TestRedirectsBounded(t *testing.T) {
	hops := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, fmt.Sprintf("%s/hop%d", srv.URL, hops), http.StatusFound)
	}))
	defer srv.Close()

	r := NewResolver()
	if r.Probe(context.Background(), srv.URL) {
		t.Error("an endless redirect chain should not probe as accessible")
	}
	if hops > maxRedirects+1 {
		t.Errorf("followed %d hops, expected at most %d", hops, maxRedirects+1)
	}
}

func TestOpenStreamRedirectToContent(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("redirected body"))
	}))
	defer final.Close()
	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer hop.Close()

	r := NewResolver()
	body, _, err := r.OpenStream(context.Background(), []string{hop.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "redirected body" {
		t.Errorf("body mangled: %q", data)
	}
}
