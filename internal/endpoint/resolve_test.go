package endpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bojiang/toy-tunnel/internal/models"
)

func TestResolveConfigured(t *testing.T) {
	r := &Resolver{Configured: " 203.0.113.9 ", DiscoveryURL: "http://127.0.0.1:1/unused"}
	ep := r.Resolve(context.Background())
	a, err := ep.Get()
	if err != nil {
		t.Fatal(err)
	}
	if a != netip.MustParseAddr("203.0.113.9") {
		t.Fatalf("addr = %s", a)
	}
}

func TestResolveConfiguredInvalid(t *testing.T) {
	ep := (&Resolver{Configured: "not-an-ip"}).Resolve(context.Background())
	if _, err := ep.Get(); !errors.Is(err, models.ErrEndpointUnresolvable) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveDiscoveryRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("198.51.100.20\n"))
	}))
	defer srv.Close()

	ep := (&Resolver{DiscoveryURL: srv.URL, Timeout: 5 * time.Second}).Resolve(context.Background())
	a, err := ep.Get()
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != "198.51.100.20" {
		t.Fatalf("addr = %s", a)
	}
	if hits.Load() != 3 {
		t.Fatalf("%d requests, want 3", hits.Load())
	}
}

func TestResolveDiscoveryBadBodyIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<html>captive portal</html>"))
	}))
	defer srv.Close()

	ep := (&Resolver{DiscoveryURL: srv.URL, Timeout: 5 * time.Second}).Resolve(context.Background())
	if _, err := ep.Get(); !errors.Is(err, models.ErrEndpointUnresolvable) {
		t.Fatalf("err = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("%d requests for an unparsable body, want 1", hits.Load())
	}
}

func TestResolveDisabled(t *testing.T) {
	ep := (&Resolver{}).Resolve(context.Background())
	if _, err := ep.Get(); !errors.Is(err, models.ErrEndpointUnresolvable) {
		t.Fatalf("err = %v", err)
	}
	if _, err := (Endpoint{}).Get(); !errors.Is(err, models.ErrEndpointUnresolvable) {
		t.Fatalf("zero Endpoint: err = %v", err)
	}
}
