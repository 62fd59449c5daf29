// Package vpn описывает адресное пространство VPN и выдачу адресов пирам.
package vpn

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/bojiang/toy-tunnel/internal/models"
)

// Options: сырые параметры топологии из конфига.
type Options struct {
	Network    string // CIDR подсети VPN, напр. 10.7.0.0/16
	Gateway    string // CIDR, маршрутизируемый клиентами через туннель; пусто: вся подсеть
	Reserved   int    // сколько адресов в начале подсети отдано инфраструктуре
	ListenPort int
	Keepalive  int // секунды, PersistentKeepalive для клиентов
}

// Topology неизменяема после создания и передаётся по ссылке.
type Topology struct {
	subnet     netip.Prefix
	gateway    netip.Prefix
	reserved   uint64
	listenPort int
	keepalive  int

	base uint64 // адрес сети
	size uint64 // число адресов в подсети
}

func NewTopology(o Options) (*Topology, error) {
	subnet, err := parseV4Prefix("network", o.Network)
	if err != nil {
		return nil, err
	}
	gateway := subnet
	if o.Gateway != "" {
		if gateway, err = parseV4Prefix("gateway", o.Gateway); err != nil {
			return nil, err
		}
	}
	if gateway.Bits() < subnet.Bits() || !subnet.Contains(gateway.Addr()) {
		return nil, fmt.Errorf("vpn: gateway %s must be a subnet of network %s", gateway, subnet)
	}
	// reserved >= 1: клиент с id 1 не должен совпасть с адресом сервера subnet[1]
	if o.Reserved < 1 {
		return nil, fmt.Errorf("vpn: reserved address count must be >= 1, got %d", o.Reserved)
	}
	if o.ListenPort < 1 || o.ListenPort > 65535 {
		return nil, fmt.Errorf("vpn: listen port out of range: %d", o.ListenPort)
	}
	if o.Keepalive < 0 {
		return nil, fmt.Errorf("vpn: keepalive must not be negative")
	}

	t := &Topology{
		subnet:     subnet,
		gateway:    gateway,
		reserved:   uint64(o.Reserved),
		listenPort: o.ListenPort,
		keepalive:  o.Keepalive,
		base:       uint64(v4ToUint(subnet.Addr())),
		size:       uint64(1) << (32 - subnet.Bits()),
	}
	if _, err := t.AddressFor(models.ServerPeerID); err != nil {
		return nil, fmt.Errorf("vpn: network %s has no room for the server address: %w", subnet, err)
	}
	return t, nil
}

func parseV4Prefix(name, s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("vpn: bad %s %q: %w", name, s, err)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("vpn: %s %q: only IPv4 is supported", name, s)
	}
	return p.Masked(), nil
}

func (t *Topology) Subnet() netip.Prefix  { return t.subnet }
func (t *Topology) Gateway() netip.Prefix { return t.gateway }
func (t *Topology) Reserved() int         { return int(t.reserved) }
func (t *Topology) ListenPort() int       { return t.listenPort }
func (t *Topology) Keepalive() int        { return t.keepalive }

// AddressFor выдаёт subnet[1] серверу и subnet[reserved+id] клиентам.
// Адрес широковещания и всё за ним: ErrSubnetExhausted.
func (t *Topology) AddressFor(id uint) (netip.Addr, error) {
	offset := uint64(1)
	if id != models.ServerPeerID {
		offset = t.reserved + uint64(id)
		if offset < t.reserved { // переполнение
			offset = t.size
		}
	}
	if offset >= t.size-1 {
		return netip.Addr{}, fmt.Errorf("%w: peer %d does not fit into %s (reserved %d)",
			models.ErrSubnetExhausted, id, t.subnet, t.reserved)
	}
	return uintToV4(uint32(t.base + offset)), nil
}

// ServerAddress проверен в NewTopology, ошибки быть не может.
func (t *Topology) ServerAddress() netip.Addr {
	a, _ := t.AddressFor(models.ServerPeerID)
	return a
}

// InterfaceAddress: адрес пира с длиной префикса подсети (для Address = ...).
func (t *Topology) InterfaceAddress(id uint) (netip.Prefix, error) {
	a, err := t.AddressFor(id)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, t.subnet.Bits()), nil
}

// HostPrefix: /32 ровно на один адрес пира (AllowedIPs на сервере).
func (t *Topology) HostPrefix(id uint) (netip.Prefix, error) {
	a, err := t.AddressFor(id)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// Capacity: сколько клиентских id помещается в подсеть.
func (t *Topology) Capacity() int {
	if t.size < t.reserved+2 {
		return 0
	}
	return int(t.size - 2 - t.reserved)
}

func v4ToUint(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uintToV4(u uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], u)
	return netip.AddrFrom4(b)
}
