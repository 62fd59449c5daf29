package health

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/bojiang/toy-tunnel/internal/controller"
	"github.com/bojiang/toy-tunnel/internal/models"
)

// SyncReporter: источник итога последней синхронизации интерфейса.
type SyncReporter interface {
	LastSync() controller.SyncResult
}

// RegisterRoutes: /healthz (процесс жив) и /readyz (БД отвечает, последний sync успешен).
func RegisterRoutes(r *mux.Router, db *gorm.DB, sync SyncReporter) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readiness(db, sync)).Methods(http.MethodGet)
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	models.WriteText(w, http.StatusOK, "ok\n")
}

type readyReport struct {
	Database string     `json:"database"`
	Sync     string     `json:"sync"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
	Checksum string     `json:"checksum,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func readiness(db *gorm.DB, sync SyncReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := readyReport{Database: "ok", Sync: "ok"}
		status := http.StatusOK

		if db == nil {
			rep.Database = "not configured"
			status = http.StatusServiceUnavailable
		} else if sqlDB, err := db.DB(); err != nil {
			rep.Database = "handle error"
			status = http.StatusServiceUnavailable
		} else if err := sqlDB.PingContext(r.Context()); err != nil {
			rep.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}

		if sync != nil {
			last := sync.LastSync()
			switch {
			case last.At.IsZero():
				rep.Sync = "pending"
				status = http.StatusServiceUnavailable
			case last.Err != nil:
				rep.Sync = "failed"
				rep.Error = last.Err.Error()
				status = http.StatusServiceUnavailable
			}
			if !last.At.IsZero() {
				at := last.At
				rep.SyncedAt = &at
				rep.Checksum = last.Checksum
			}
		}
		models.WriteJSON(w, status, rep)
	}
}
