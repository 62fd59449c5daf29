// Package wgconf рендерит и разбирает конфиги WireGuard в формате [Interface]/[Peer].
package wgconf

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/bojiang/toy-tunnel/internal/models"
	"github.com/bojiang/toy-tunnel/internal/vpn"
)

// RenderServer: один [Interface] сервера и по [Peer] на каждого клиента.
// Порядок пиров берётся как есть (List отдаёт по возрастанию id): от него зависит
// стабильность текста, который потом сравнивает wg syncconf.
func RenderServer(topo *vpn.Topology, server *models.Peer, clients []models.Peer) (string, error) {
	if server == nil || !server.IsServer() {
		return "", fmt.Errorf("wgconf: server peer with id %d required", models.ServerPeerID)
	}
	addr, err := topo.InterfaceAddress(server.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", server.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", addr)
	fmt.Fprintf(&b, "ListenPort = %d\n", topo.ListenPort())

	for _, c := range clients {
		if c.IsServer() {
			return "", fmt.Errorf("wgconf: server peer in client list")
		}
		host, err := topo.HostPrefix(c.ID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", c.PublicKey)
		fmt.Fprintf(&b, "AllowedIPs = %s\n", host)
	}
	return b.String(), nil
}

// RenderClient: [Interface] клиента и единственный [Peer] с сервером.
// Через туннель клиент маршрутизирует только gateway-подсеть.
func RenderClient(topo *vpn.Topology, client, server *models.Peer, endpoint netip.Addr) (string, error) {
	if client == nil || client.IsServer() {
		return "", fmt.Errorf("wgconf: client peer required")
	}
	if server == nil || !server.IsServer() {
		return "", fmt.Errorf("wgconf: server peer with id %d required", models.ServerPeerID)
	}
	if !endpoint.IsValid() {
		return "", fmt.Errorf("%w: no endpoint address", models.ErrEndpointUnresolvable)
	}
	addr, err := topo.InterfaceAddress(client.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", client.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", addr)
	fmt.Fprintf(&b, "\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", server.PublicKey)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", topo.Gateway())
	fmt.Fprintf(&b, "Endpoint = %s\n", netip.AddrPortFrom(endpoint, uint16(topo.ListenPort())))
	if ka := topo.Keepalive(); ka > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", ka)
	}
	return b.String(), nil
}
