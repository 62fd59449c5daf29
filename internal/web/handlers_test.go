package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/bojiang/toy-tunnel/internal/auth"
	"github.com/bojiang/toy-tunnel/internal/middleware"
	"github.com/bojiang/toy-tunnel/internal/models"
)

type fakeVerifier map[string]auth.Identity

func (f fakeVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	id, ok := f[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", models.ErrUnauthenticated)
	}
	return &id, nil
}

type fakeDirectory struct {
	peers     map[string]*models.Peer
	ensureErr error
	configErr error
	ensured   []string
}

func (d *fakeDirectory) EnsurePeer(_ context.Context, identity, label string) (*models.Peer, error) {
	d.ensured = append(d.ensured, identity)
	if d.ensureErr != nil {
		return nil, d.ensureErr
	}
	if p, ok := d.peers[identity]; ok {
		return p, nil
	}
	p := &models.Peer{ID: uint(len(d.peers) + 1), Identity: identity, Label: label}
	d.peers[identity] = p
	return p, nil
}

func (d *fakeDirectory) GetPeer(_ context.Context, identity string) (*models.Peer, error) {
	return d.peers[identity], nil
}

func (d *fakeDirectory) ClientConfig(_ context.Context, p *models.Peer) (string, error) {
	if d.configErr != nil {
		return "", d.configErr
	}
	return fmt.Sprintf("[Interface]\n# peer %d\n", p.ID), nil
}

func newTestRouter(dir *fakeDirectory, suffix string, silent bool) *mux.Router {
	v := fakeVerifier{
		"good":  {Subject: "sub-1", Email: "alice@corp.example"},
		"other": {Subject: "sub-2", Email: "mallory@evil.example"},
	}
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	RegisterRoutes(r, New(dir, v, suffix, "wg0"), silent)
	return r
}

func postLogin(r http.Handler, token string) *httptest.ResponseRecorder {
	form := url.Values{"idToken": {token}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		suffix     string
		wantStatus int
		wantPeer   bool
	}{
		{"valid token", "good", "", http.StatusOK, true},
		{"allowed suffix", "good", "corp.example", http.StatusOK, true},
		{"rejected suffix", "other", "corp.example", http.StatusForbidden, false},
		{"invalid token", "forged", "", http.StatusUnauthorized, false},
		{"missing token", "", "", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{peers: map[string]*models.Peer{}}
			rec := postLogin(newTestRouter(dir, tt.suffix, false), tt.token)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if got := len(dir.ensured) > 0; got != tt.wantPeer {
				t.Fatalf("EnsurePeer called = %v, want %v", got, tt.wantPeer)
			}
		})
	}
}

func TestLoginErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: peer 300", models.ErrSubnetExhausted), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: exit 1", models.ErrInterfaceUp), http.StatusInternalServerError},
		{fmt.Errorf("%w: exit 1", models.ErrInterfaceReload), http.StatusInternalServerError},
		{fmt.Errorf("%w: entropy", models.ErrKeyGeneration), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			dir := &fakeDirectory{peers: map[string]*models.Peer{}, ensureErr: tt.err}
			rec := postLogin(newTestRouter(dir, "", false), "good")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("Content-Type = %q", ct)
			}
		})
	}
}

func TestDownloadConfig(t *testing.T) {
	dir := &fakeDirectory{peers: map[string]*models.Peer{
		"sub-1": {ID: 4, Identity: "sub-1", Label: "alice@corp.example"},
	}}
	r := newTestRouter(dir, "", false)

	req := httptest.NewRequest(http.MethodGet, "/me/download-config", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="config_alice@corp.example.conf"` {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "# peer 4") {
		t.Fatalf("body = %q", rec.Body)
	}
	if len(dir.ensured) != 0 {
		t.Fatal("download created a peer")
	}
}

func TestDownloadConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic Z29vZA==", http.StatusUnauthorized},
		{"bad token", "Bearer forged", http.StatusUnauthorized},
		{"unknown user", "Bearer other", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{peers: map[string]*models.Peer{}}
			req := httptest.NewRequest(http.MethodGet, "/me/download-config", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			newTestRouter(dir, "", false).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestDownloadConfigEndpointUnknown(t *testing.T) {
	dir := &fakeDirectory{
		peers:     map[string]*models.Peer{"sub-1": {ID: 1, Identity: "sub-1", Label: "a"}},
		configErr: fmt.Errorf("%w: discovery failed", models.ErrEndpointUnresolvable),
	}
	req := httptest.NewRequest(http.MethodGet, "/me/download-config", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	newTestRouter(dir, "", false).ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSilentDownloadConfig(t *testing.T) {
	dir := &fakeDirectory{peers: map[string]*models.Peer{}}

	off := httptest.NewRecorder()
	newTestRouter(dir, "", false).ServeHTTP(off, httptest.NewRequest(http.MethodGet, "/silent/download-config", nil))
	if off.Code != http.StatusNotFound {
		t.Fatalf("disabled silent route: status = %d", off.Code)
	}

	r := newTestRouter(dir, "", true)
	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/silent/download-config", nil))
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("no X-Real-IP: status = %d", missing.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/silent/download-config", nil)
	req.Header.Set("X-Real-IP", "192.0.2.44")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="wg0.conf"` {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if _, ok := dir.peers["192.0.2.44"]; !ok {
		t.Fatal("peer not ensured for X-Real-IP")
	}
}

func TestNoVerifierConfigured(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r, New(&fakeDirectory{peers: map[string]*models.Peer{}}, nil, "", "wg0"), false)
	rec := postLogin(r, "good")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"config_alice@corp.example.conf": "config_alice@corp.example.conf",
		"config_../../etc/passwd.conf":   "config_....etcpasswd.conf",
		`config_a"b<c>.conf`:             "config_abc.conf",
		"config_\r\nX-Evil: 1.conf":      "config_X-Evil 1.conf",
		"...":                            "config.conf",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
