package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bojiang/toy-tunnel/internal/render/wgconf"
	"github.com/bojiang/toy-tunnel/internal/vpn/wireguard"
)

func statusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare the directory with the config on disk and the live interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := e.core(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer core.Close()

			peers, err := core.Directory.Peers(cmd.Context())
			if err != nil {
				return err
			}
			want, err := core.Directory.ServerConfig(cmd.Context())
			if err != nil {
				return err
			}

			path := core.Reconciler.ConfigPath()
			fileState := Success("in sync")
			var onDisk map[string]bool
			raw, err := os.ReadFile(path)
			switch {
			case errors.Is(err, os.ErrNotExist):
				fileState = Warn("missing")
			case err != nil:
				return fmt.Errorf("read %s: %w", path, err)
			default:
				if string(raw) != want {
					fileState = Warn("drift, run sync")
				}
				f, err := wgconf.Parse(string(raw))
				if err != nil {
					fileState = Warn("unparsable: " + err.Error())
				} else {
					onDisk = map[string]bool{}
					for _, k := range f.PeerKeys() {
						onDisk[k] = true
					}
				}
			}

			live := map[string]wireguard.PeerStatus{}
			ifaceState := Success("up")
			st, err := wireguard.ReadStatus(e.cfg.WireGuard.Interface)
			switch {
			case errors.Is(err, wireguard.ErrDeviceNotFound):
				ifaceState = Warn("down")
			case err != nil:
				ifaceState = Warn("unknown: " + err.Error())
			default:
				for _, p := range st.Peers {
					live[p.PublicKey] = p
				}
			}

			fmt.Print(KeyValues("",
				KV("Interface", e.cfg.WireGuard.Interface+" "+ifaceState),
				KV("Config", path+" "+fileState),
				KV("Subnet", core.Topology.Subnet().String()),
				KV("Server", core.Topology.ServerAddress().String()),
				KV("Peers", fmt.Sprintf("%d / %d", len(peers), core.Topology.Capacity())),
			))
			if len(peers) == 0 {
				return nil
			}

			rows := make([][]string, len(peers))
			for i := range peers {
				v := viewOf(core, &peers[i])
				inFile := "-"
				if onDisk != nil {
					inFile = Bool(onDisk[v.PublicKey])
				}
				handshake, transfer := "-", "-"
				inLive := Bool(false)
				if p, ok := live[v.PublicKey]; ok {
					inLive = Bool(true)
					if !p.LastHandshake.IsZero() {
						handshake = time.Since(p.LastHandshake).Truncate(time.Second).String() + " ago"
					}
					transfer = strconv.FormatInt(p.RxBytes, 10) + " / " + strconv.FormatInt(p.TxBytes, 10)
				}
				if st == nil {
					inLive = "-"
				}
				rows[i] = []string{
					strconv.FormatUint(uint64(v.ID), 10),
					v.Label,
					v.Address,
					inFile,
					inLive,
					handshake,
					transfer,
				}
			}
			fmt.Println(Table(
				[]string{"ID", "Label", "Address", "In file", "Live", "Handshake", "Rx / Tx"},
				rows,
			))
			return nil
		},
	}
}
