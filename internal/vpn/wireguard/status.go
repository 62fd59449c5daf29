package wireguard

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
)

// PeerStatus: то, что ядро знает о пире прямо сейчас.
type PeerStatus struct {
	PublicKey     string
	Endpoint      string
	LastHandshake time.Time
	RxBytes       int64
	TxBytes       int64
}

type DeviceStatus struct {
	Name       string
	PublicKey  string
	ListenPort int
	Peers      []PeerStatus
}

// ErrDeviceNotFound: интерфейса нет или это не WireGuard.
var ErrDeviceNotFound = errors.New("wireguard device not found")

// ReadStatus читает живое состояние устройства через wgctrl (нужны права root/CAP_NET_ADMIN).
func ReadStatus(name string) (*DeviceStatus, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("create wireguard client: %w", err)
	}
	defer c.Close()

	dev, err := c.Device(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
		}
		return nil, fmt.Errorf("inspect wireguard device: %w", err)
	}

	st := &DeviceStatus{
		Name:       dev.Name,
		PublicKey:  dev.PublicKey.String(),
		ListenPort: dev.ListenPort,
		Peers:      make([]PeerStatus, 0, len(dev.Peers)),
	}
	for _, p := range dev.Peers {
		ps := PeerStatus{
			PublicKey:     p.PublicKey.String(),
			LastHandshake: p.LastHandshakeTime,
			RxBytes:       p.ReceiveBytes,
			TxBytes:       p.TransmitBytes,
		}
		if p.Endpoint != nil {
			ps.Endpoint = p.Endpoint.String()
		}
		st.Peers = append(st.Peers, ps)
	}
	return st, nil
}
