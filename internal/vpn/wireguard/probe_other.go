//go:build !linux

package wireguard

func platformProbe(w *WGQuick) ProbeFunc { return w.showProbe }
