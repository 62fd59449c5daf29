// Package endpoint определяет внешний адрес сервера, который попадает в Endpoint клиентов.
package endpoint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/bojiang/toy-tunnel/internal/logs"
	"github.com/bojiang/toy-tunnel/internal/models"
)

const (
	discoverInitialInterval = 200 * time.Millisecond
	discoverMaxInterval     = 2 * time.Second
)

// Endpoint: результат разрешения, вычисляется один раз при старте.
// При Err != nil адрес неизвестен: выдача клиентских конфигов блокируется, создание пиров нет.
type Endpoint struct {
	Addr netip.Addr
	Err  error
}

// Get возвращает адрес или ErrEndpointUnresolvable.
func (e Endpoint) Get() (netip.Addr, error) {
	if e.Err != nil {
		return netip.Addr{}, e.Err
	}
	if !e.Addr.IsValid() {
		return netip.Addr{}, fmt.Errorf("%w: not resolved", models.ErrEndpointUnresolvable)
	}
	return e.Addr, nil
}

// Static: Endpoint из уже известного адреса.
func Static(a netip.Addr) Endpoint { return Endpoint{Addr: a} }

type Resolver struct {
	Configured   string        // адрес из конфига; если задан: сеть не трогаем
	DiscoveryURL string        // сервис "какой у меня IP", отдаёт адрес текстом
	Timeout      time.Duration // общий бюджет на обнаружение
	Client       *http.Client
}

func (r *Resolver) Resolve(ctx context.Context) Endpoint {
	addr, source, err := r.resolve(ctx)
	if err != nil {
		logs.Logger.WithError(err).Warn("endpoint address unresolved, client configs are unavailable")
		return Endpoint{Err: err}
	}
	log := logs.With(logrus.Fields{"endpoint": addr.String(), "source": source})
	if !isGlobal(addr) {
		log.Warn("endpoint address is not a global address")
	}
	log.Info("endpoint address resolved")
	return Endpoint{Addr: addr}
}

func (r *Resolver) resolve(ctx context.Context) (netip.Addr, string, error) {
	if s := strings.TrimSpace(r.Configured); s != "" {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Addr{}, "", fmt.Errorf("%w: configured address %q: %w", models.ErrEndpointUnresolvable, s, err)
		}
		return a.Unmap(), "config", nil
	}
	if r.DiscoveryURL == "" {
		return netip.Addr{}, "", fmt.Errorf("%w: no external address configured and discovery disabled", models.ErrEndpointUnresolvable)
	}
	a, err := r.discover(ctx)
	if err != nil {
		return netip.Addr{}, "", fmt.Errorf("%w: discover via %s: %w", models.ErrEndpointUnresolvable, r.DiscoveryURL, err)
	}
	return a, "discovery", nil
}

func (r *Resolver) discover(ctx context.Context) (netip.Addr, error) {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	maxElapsed := r.Timeout
	if maxElapsed <= 0 {
		maxElapsed = 10 * time.Second
	}

	var addr netip.Addr
	check := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.DiscoveryURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 128))
		if err != nil {
			return err
		}
		a, err := netip.ParseAddr(strings.TrimSpace(string(body)))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("bad address in response: %w", err))
		}
		addr = a.Unmap()
		return nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(discoverInitialInterval),
		backoff.WithMaxInterval(discoverMaxInterval),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
	if err := backoff.Retry(check, backoff.WithContext(b, ctx)); err != nil {
		return netip.Addr{}, err
	}
	return addr, nil
}

func isGlobal(a netip.Addr) bool {
	return a.IsGlobalUnicast() && !a.IsPrivate()
}
