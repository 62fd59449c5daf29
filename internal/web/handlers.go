// Package web реализует HTTP-поверхность самообслуживания: вход и выдачу клиентского конфига.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bojiang/toy-tunnel/internal/auth"
	"github.com/bojiang/toy-tunnel/internal/middleware"
	"github.com/bojiang/toy-tunnel/internal/models"
)

type Directory interface {
	EnsurePeer(ctx context.Context, identity, label string) (*models.Peer, error)
	GetPeer(ctx context.Context, identity string) (*models.Peer, error)
	ClientConfig(ctx context.Context, p *models.Peer) (string, error)
}

type Handler struct {
	dir         Directory
	verifier    auth.Verifier
	emailSuffix string
	iface       string
}

// New: если verifier == nil, /login и /me отвечают 503.
func New(dir Directory, verifier auth.Verifier, emailSuffix, iface string) *Handler {
	return &Handler{dir: dir, verifier: verifier, emailSuffix: emailSuffix, iface: iface}
}

// POST /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "bad form", nil)
		return
	}
	id, ok := h.verify(w, r, r.FormValue("idToken"))
	if !ok {
		return
	}
	if !auth.EmailAllowed(id.Email, h.emailSuffix) {
		middleware.Entry(r).WithField("email", id.Email).Info("login rejected by email suffix")
		models.WriteProblem(w, http.StatusForbidden, "Forbidden",
			"no permission, please try with your enterprise email", nil)
		return
	}
	if _, err := h.dir.EnsurePeer(r.Context(), id.Subject, id.Email); err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteText(w, http.StatusOK, "Success")
}

// GET /me/download-config
func (h *Handler) DownloadConfig(w http.ResponseWriter, r *http.Request) {
	raw, found := bearer(r)
	if !found {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token", nil)
		return
	}
	id, ok := h.verify(w, r, raw)
	if !ok {
		return
	}
	p, err := h.dir.GetPeer(r.Context(), id.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p == nil {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "user not found, log in first", nil)
		return
	}
	h.sendConfig(w, r, p, sanitizeFilename(fmt.Sprintf("config_%s.conf", p.Label)))
}

// GET /silent/download-config: identity берётся из X-Real-IP, который ставит прокси.
func (h *Handler) SilentDownloadConfig(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if ip == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "missing X-Real-IP header", nil)
		return
	}
	p, err := h.dir.EnsurePeer(r.Context(), ip, ip)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.sendConfig(w, r, p, sanitizeFilename(h.iface+".conf"))
}

func (h *Handler) sendConfig(w http.ResponseWriter, r *http.Request, p *models.Peer, filename string) {
	conf, err := h.dir.ClientConfig(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.Entry(r).WithFields(logrus.Fields{"peer_id": p.ID, "file": filename}).Info("client config issued")
	models.WriteAttachment(w, filename, []byte(conf))
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, raw string) (*auth.Identity, bool) {
	if h.verifier == nil {
		models.WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "authentication is not configured", nil)
		return nil, false
	}
	id, err := h.verifier.Verify(r.Context(), raw)
	if err != nil {
		middleware.Entry(r).WithError(err).Info("token verification failed")
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid token", nil)
		return nil, false
	}
	return id, true
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", false
	}
	return strings.TrimSpace(tok), true
}

// writeError: единственное место, где доменные ошибки превращаются в HTTP-статусы.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var title, detail string
	switch {
	case errors.Is(err, models.ErrInvalidIdentity):
		status, title, detail = http.StatusBadRequest, "Bad Request", "invalid identity"
	case errors.Is(err, models.ErrSubnetExhausted):
		status, title, detail = http.StatusServiceUnavailable, "Service Unavailable", "no capacity left in the VPN subnet"
	case errors.Is(err, models.ErrEndpointUnresolvable):
		status, title, detail = http.StatusServiceUnavailable, "Service Unavailable", "server endpoint address is unknown"
	case errors.Is(err, models.ErrUnauthenticated):
		status, title, detail = http.StatusUnauthorized, "Unauthorized", "invalid token"
	default:
		status, title, detail = http.StatusInternalServerError, "Internal Server Error", "failed to provision peer (see logs by reqid)"
	}
	e := middleware.Entry(r).WithError(err)
	if status >= http.StatusInternalServerError {
		e.Error("request failed")
	} else {
		e.Info("request rejected")
	}
	models.WriteProblem(w, status, title, detail, map[string]any{"reqid": middleware.GetRequestID(r)})
}

// sanitizeFilename убирает из имени всё, что ломает Content-Disposition или путь.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c < 0x20 || c == 0x7f:
		case strings.ContainsRune(`/\:*?"<>|`, c):
		default:
			b.WriteRune(c)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "config.conf"
	}
	if len(out) > 255 {
		out = strings.ToValidUTF8(out[:255], "")
	}
	return out
}

func RegisterRoutes(r *mux.Router, h *Handler, silent bool) {
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/me/download-config", h.DownloadConfig).Methods(http.MethodGet)
	if silent {
		r.HandleFunc("/silent/download-config", h.SilentDownloadConfig).Methods(http.MethodGet)
	}
}
