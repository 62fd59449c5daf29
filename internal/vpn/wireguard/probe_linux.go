//go:build linux

package wireguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
)

func platformProbe(_ *WGQuick) ProbeFunc { return linkProbe }

func linkProbe(_ context.Context, name string) (bool, error) {
	_, err := netlink.LinkByName(name)
	if err == nil {
		return true, nil
	}
	var nf netlink.LinkNotFoundError
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("find interface %q: %w", name, err)
}
