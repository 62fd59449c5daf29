package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/bojiang/toy-tunnel/config"
	"github.com/bojiang/toy-tunnel/internal/auth"
	"github.com/bojiang/toy-tunnel/internal/health"
	"github.com/bojiang/toy-tunnel/internal/logs"
	"github.com/bojiang/toy-tunnel/internal/middleware"
	"github.com/bojiang/toy-tunnel/internal/web"
)

type App struct {
	cfg        *config.Config
	core       *Core
	Router     *mux.Router
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// Initialize собирает ядро, выполняет стартовую синхронизацию и маршруты.
// Падение стартовой синхронизации не фатально: /readyz покажет ошибку, а следующий
// EnsurePeer или `sync` повторят полный проход.
func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg
	ctx := context.Background()

	/* 1) Ядро */
	core, err := NewCore(ctx, cfg, CoreOptions{ResolveEndpoint: true})
	if err != nil {
		return err
	}
	a.core = core

	/* 2) Стартовая синхронизация */
	if err := core.Directory.Startup(ctx); err != nil {
		logs.Logger.WithError(err).Error("startup sync failed")
	}

	/* 3) Проверка токенов (опционально) */
	var verifier auth.Verifier
	if cfg.Auth.Issuer != "" {
		v, err := auth.NewOIDC(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID)
		if err != nil {
			_ = core.Close()
			return err
		}
		verifier = v
	} else {
		logs.Logger.Warn("auth.issuer is empty, /login and /me are disabled")
	}

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.AccessLog,
	)

	/* 5) Health */
	health.RegisterRoutes(a.Router, core.DB, core.Reconciler)

	/* 6) Самообслуживание */
	h := web.New(core.Directory, verifier, cfg.Auth.EmailSuffix, cfg.WireGuard.Interface)
	web.RegisterRoutes(a.Router, h, cfg.Enrollment.Silent)

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}
	defer a.core.Close()

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	// WriteTimeout больше command_timeout: первый вход ждёт wg-quick
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      a.cfg.WireGuard.CommandTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			a.cancel()
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	default:
		return nil
	}
}
