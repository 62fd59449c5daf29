package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bojiang/toy-tunnel/internal/models"
	"github.com/bojiang/toy-tunnel/server"
)

func peerCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Inspect and manage directory peers",
	}
	cmd.AddCommand(peerEnsureCmd(e))
	cmd.AddCommand(peerShowCmd(e))
	cmd.AddCommand(peerListCmd(e))
	cmd.AddCommand(peerConfigCmd(e))
	return cmd
}

// peerView: пир вместе с вычисленным адресом, для вывода.
type peerView struct {
	ID        uint      `json:"id" yaml:"id"`
	Identity  string    `json:"identity" yaml:"identity"`
	Label     string    `json:"label" yaml:"label"`
	Address   string    `json:"address" yaml:"address"`
	PublicKey string    `json:"public_key" yaml:"public_key"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

func viewOf(core *server.Core, p *models.Peer) peerView {
	addr := "-"
	if a, err := core.Directory.Address(p); err == nil {
		addr = a.String()
	}
	return peerView{
		ID:        p.ID,
		Identity:  p.Identity,
		Label:     p.Label,
		Address:   addr,
		PublicKey: p.PublicKey,
		CreatedAt: p.CreatedAt,
	}
}

func printPeer(v peerView, format string) error {
	switch format {
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "", "text":
		fmt.Print(KeyValues("",
			KV("ID", strconv.FormatUint(uint64(v.ID), 10)),
			KV("Identity", v.Identity),
			KV("Label", v.Label),
			KV("Address", v.Address),
			KV("Public key", v.PublicKey),
			KV("Created", v.CreatedAt.Format(time.RFC3339)),
		))
	default:
		return fmt.Errorf("unknown output format %q (text, yaml, json)", format)
	}
	return nil
}

func peerEnsureCmd(e *env) *cobra.Command {
	var label, output string
	cmd := &cobra.Command{
		Use:   "ensure <identity>",
		Short: "Create the peer if it does not exist and sync the interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := e.core(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer core.Close()

			if label == "" {
				label = args[0]
			}
			p, err := core.Directory.EnsurePeer(cmd.Context(), args[0], label)
			if err != nil {
				return err
			}
			return printPeer(viewOf(core, p), output)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label (default: identity)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, yaml, json")
	return cmd
}

func peerShowCmd(e *env) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <identity>",
		Short: "Show a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := e.core(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer core.Close()

			p, err := core.Directory.GetPeer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("peer %q not found", args[0])
			}
			return printPeer(viewOf(core, p), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, yaml, json")
	return cmd
}

func peerListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List client peers",
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
			if len(peers) == 0 {
				fmt.Println(Muted("no peers registered"))
				return nil
			}
			rows := make([][]string, len(peers))
			for i := range peers {
				v := viewOf(core, &peers[i])
				rows[i] = []string{
					strconv.FormatUint(uint64(v.ID), 10),
					v.Identity,
					v.Label,
					v.Address,
					v.PublicKey,
					v.CreatedAt.Format(time.DateTime),
				}
			}
			fmt.Println(Table(
				[]string{"ID", "Identity", "Label", "Address", "Public key", "Created"},
				rows,
			))
			fmt.Println(Muted(fmt.Sprintf("%d of %d addresses used", len(peers), core.Topology.Capacity())))
			return nil
		},
	}
}

func peerConfigCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "config <identity>",
		Short: "Print the client config of an existing peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := e.core(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer core.Close()

			p, err := core.Directory.GetPeer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("peer %q not found", args[0])
			}
			conf, err := core.Directory.ClientConfig(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Println(conf)
			return nil
		},
	}
}
