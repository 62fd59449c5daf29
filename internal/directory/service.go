// Package directory связывает каталог пиров с синхронизацией живого интерфейса.
// Только этот пакет запускает reconciliation.
package directory

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bojiang/toy-tunnel/internal/controller"
	"github.com/bojiang/toy-tunnel/internal/endpoint"
	"github.com/bojiang/toy-tunnel/internal/logs"
	"github.com/bojiang/toy-tunnel/internal/models"
	"github.com/bojiang/toy-tunnel/internal/render/wgconf"
	"github.com/bojiang/toy-tunnel/internal/repo"
	"github.com/bojiang/toy-tunnel/internal/vpn"
)

type Store interface {
	Find(ctx context.Context, identity string) (*models.Peer, error)
	Insert(ctx context.Context, identity, label string, admit func(*models.Peer) error) (*models.Peer, error)
	InsertServer(ctx context.Context) (*models.Peer, error)
	List(ctx context.Context, f repo.ListFilter) ([]models.Peer, error)
}

type Applier interface {
	Apply(ctx context.Context, conf string) (controller.State, error)
}

type Service struct {
	store    Store
	topo     *vpn.Topology
	rec      Applier
	endpoint endpoint.Endpoint

	// find → insert → reconcile для разных identity не должны перемежаться
	mu sync.Mutex
	// последний проход синхронизации упал, интерфейс может не знать о части пиров
	dirty bool
}

func New(store Store, topo *vpn.Topology, rec Applier, ep endpoint.Endpoint) *Service {
	return &Service{store: store, topo: topo, rec: rec, endpoint: ep}
}

func (s *Service) Topology() *vpn.Topology { return s.topo }

// EnsurePeer возвращает пира по identity, создавая его при первом обращении.
// После вставки конфиг сервера синхронизируется до возврата. Если синхронизация
// упала, пир уже сохранён, а каталог помечен грязным: следующий EnsurePeer
// (для любой identity) или Sync сначала повторит полный проход.
func (s *Service) EnsurePeer(ctx context.Context, identity, label string) (*models.Peer, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || identity == models.ServerIdentity {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidIdentity, identity)
	}
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.Find(ctx, identity)
	if err != nil {
		return nil, err
	}
	if p != nil {
		if s.dirty {
			if err := s.syncLocked(ctx); err != nil {
				return nil, err
			}
		}
		return p, nil
	}

	log := logs.With(logrus.Fields{"identity": identity, "label": label})
	log.Info("adding peer")
	p, err = s.store.Insert(ctx, identity, label, s.admit)
	if err != nil {
		log.WithError(err).Warn("peer not added")
		return nil, err
	}
	log = log.WithField("peer_id", p.ID)
	if err := s.syncLocked(ctx); err != nil {
		log.WithError(err).Error("peer stored but interface not synced")
		return nil, err
	}
	log.Info("peer added")
	return p, nil
}

// admit не пускает в базу пира, которому не хватит адреса.
func (s *Service) admit(p *models.Peer) error {
	_, err := s.topo.AddressFor(p.ID)
	return err
}

// GetPeer: только чтение.
func (s *Service) GetPeer(ctx context.Context, identity string) (*models.Peer, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || identity == models.ServerIdentity {
		return nil, nil
	}
	return s.store.Find(ctx, identity)
}

// Address: адрес пира в VPN.
func (s *Service) Address(p *models.Peer) (netip.Addr, error) {
	return s.topo.AddressFor(p.ID)
}

// Peers: клиенты по возрастанию id.
func (s *Service) Peers(ctx context.Context) ([]models.Peer, error) {
	return s.store.List(ctx, repo.ListFilter{})
}

// ClientConfig рендерит конфиг клиента. Без внешнего адреса: ErrEndpointUnresolvable.
func (s *Service) ClientConfig(ctx context.Context, p *models.Peer) (string, error) {
	ep, err := s.endpoint.Get()
	if err != nil {
		return "", err
	}
	server, err := s.store.InsertServer(ctx)
	if err != nil {
		return "", err
	}
	return wgconf.RenderClient(s.topo, p, server, ep)
}

// ServerConfig рендерит конфиг сервера из текущего состояния каталога.
func (s *Service) ServerConfig(ctx context.Context) (string, error) {
	server, err := s.store.InsertServer(ctx)
	if err != nil {
		return "", err
	}
	clients, err := s.store.List(ctx, repo.ListFilter{})
	if err != nil {
		return "", err
	}
	return wgconf.RenderServer(s.topo, server, clients)
}

// Startup создаёт серверный пир и делает один безусловный проход синхронизации.
// Так чинится расхождение, накопившееся пока процесс не работал.
func (s *Service) Startup(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	server, err := s.store.InsertServer(ctx)
	if err != nil {
		return err
	}
	logs.With(logrus.Fields{
		"server_address": s.topo.ServerAddress().String(),
		"public_key":     server.PublicKey,
	}).Info("server peer ready")
	return s.syncLocked(ctx)
}

// Sync делает полный проход: рендер из всего каталога и применение.
func (s *Service) Sync(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Service) syncLocked(ctx context.Context) error {
	conf, err := s.ServerConfig(ctx)
	if err != nil {
		s.dirty = true
		return err
	}
	if _, err = s.rec.Apply(ctx, conf); err != nil {
		s.dirty = true
		return err
	}
	s.dirty = false
	return nil
}
