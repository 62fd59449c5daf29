package server

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/bojiang/toy-tunnel/config"
	"github.com/bojiang/toy-tunnel/internal/controller"
	"github.com/bojiang/toy-tunnel/internal/db"
	"github.com/bojiang/toy-tunnel/internal/directory"
	"github.com/bojiang/toy-tunnel/internal/endpoint"
	"github.com/bojiang/toy-tunnel/internal/repo"
	"github.com/bojiang/toy-tunnel/internal/vpn"
	"github.com/bojiang/toy-tunnel/internal/vpn/wireguard"
)

// Core собирает каталог, хранилище и синхронизацию интерфейса.
// Его используют и HTTP-сервер, и CLI-команды.
type Core struct {
	DB         *gorm.DB
	Keys       repo.KeyGenerator
	Store      *repo.PeerStore
	Topology   *vpn.Topology
	Reconciler *controller.Reconciler
	Directory  *directory.Service
}

type CoreOptions struct {
	// ResolveEndpoint: определять внешний адрес (нужен только для клиентских конфигов).
	ResolveEndpoint bool
}

func NewCore(ctx context.Context, cfg *config.Config, o CoreOptions) (*Core, error) {
	topo, err := cfg.Topology()
	if err != nil {
		return nil, err
	}

	d, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open failed: %w", err)
	}

	run := wireguard.WithTimeout(wireguard.ExecRunner, cfg.WireGuard.CommandTimeout)
	var keys repo.KeyGenerator = wireguard.NativeKeys{}
	if cfg.WireGuard.Keygen == config.KeygenTool {
		keys = wireguard.ToolKeys{Run: run}
	}

	store, err := repo.NewPeerStore(d, keys)
	if err != nil {
		_ = db.Close(d)
		return nil, err
	}

	rec := controller.NewReconciler(wireguard.NewWGQuick(run), controller.Options{
		Interface:      cfg.WireGuard.Interface,
		ConfigDir:      cfg.WireGuard.ConfigDir,
		CommandTimeout: cfg.WireGuard.CommandTimeout,
	})

	ep := endpoint.Endpoint{}
	if o.ResolveEndpoint {
		res := &endpoint.Resolver{
			Configured:   cfg.VPN.ExternalIP,
			DiscoveryURL: cfg.Endpoint.DiscoveryURL,
			Timeout:      cfg.Endpoint.Timeout,
		}
		ep = res.Resolve(ctx)
	}

	return &Core{
		DB:         d,
		Keys:       keys,
		Store:      store,
		Topology:   topo,
		Reconciler: rec,
		Directory:  directory.New(store, topo, rec, ep),
	}, nil
}

func (c *Core) Close() error {
	return db.Close(c.DB)
}
