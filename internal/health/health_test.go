package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/bojiang/toy-tunnel/internal/controller"
	"github.com/bojiang/toy-tunnel/internal/db"
)

type staticSync controller.SyncResult

func (s staticSync) LastSync() controller.SyncResult { return controller.SyncResult(s) }

func TestReadiness(t *testing.T) {
	d, err := db.Open("sqlite", filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close(d) })

	now := time.Now()
	tests := []struct {
		name     string
		sync     staticSync
		want     int
		wantSync string
	}{
		{"synced", staticSync{At: now, Checksum: "abc"}, http.StatusOK, "ok"},
		{"never synced", staticSync{}, http.StatusServiceUnavailable, "pending"},
		{"last sync failed", staticSync{At: now, Err: errors.New("wg-quick up: exit 1")}, http.StatusServiceUnavailable, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mux.NewRouter()
			RegisterRoutes(r, d, tt.sync)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var rep readyReport
			if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
				t.Fatal(err)
			}
			if rep.Sync != tt.wantSync || rep.Database != "ok" {
				t.Fatalf("report = %+v", rep)
			}
		})
	}
}

func TestReadinessDatabaseDown(t *testing.T) {
	d, err := db.Open("sqlite", filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = db.Close(d)

	r := mux.NewRouter()
	RegisterRoutes(r, d, staticSync{At: time.Now()})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLiveness(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r, nil, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body)
	}
}
