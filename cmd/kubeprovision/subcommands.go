package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	core "github.com/3cpo-dev/kubeprovision/internal/core"
	"github.com/3cpo-dev/kubeprovision/internal/inventory"
	"github.com/3cpo-dev/kubeprovision/internal/node"
	gssh "github.com/3cpo-dev/kubeprovision/internal/ssh"
	"github.com/3cpo-dev/kubeprovision/pkg/api"
)

// Provision every discovered node
func newProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Prepare every master and worker node to join a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			nodes, err := a.discover(cmd.Context())
			if err != nil {
				return err
			}
			c, err := a.coordinator()
			if err != nil {
				return err
			}
			started := time.Now()
			rep, err := c.ProvisionFleet(cmd.Context(), nodes, a.cfg.SSH.User)
			a.journal(cmd.Context(), rep, started)
			if err != nil {
				return err
			}
			log.Info().Int("nodes", len(rep.Results)).Msg("provisioning complete")
			return nil
		},
	}
}

// Show discovered nodes
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List master and worker nodes with their address and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			nodes, err := a.discover(cmd.Context())
			if err != nil {
				return err
			}
			var rows []api.NodeStatus
			nodes.Each(func(r node.Role, rec node.Record) {
				st := api.NodeStatus{Role: r.String(), ID: rec.ID.String(), State: rec.State.String()}
				if rec.HasPublicAddress() {
					st.Address = rec.PublicAddress.String()
				}
				rows = append(rows, st)
			})
			return printStatus(cmd.OutOrStdout(), output, rows)
		},
	}
	cmd.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func printStatus(w io.Writer, format string, rows []api.NodeStatus) error {
	switch format {
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE\tID\tADDRESS\tSTATE")
		for _, r := range rows {
			addr := r.Address
			if addr == "" {
				addr = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Role, r.ID, addr, r.State)
		}
		return tw.Flush()
	default:
		return encode(w, format, rows)
	}
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// Start every discovered node
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start every master and worker node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setState(cmd, inventory.Start)
		},
	}
}

// Stop every discovered node
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop every master and worker node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setState(cmd, inventory.Stop)
		},
	}
}

func setState(cmd *cobra.Command, t inventory.Transition) error {
	a, err := resolveApp(cmd)
	if err != nil {
		return err
	}
	nodes, err := a.discover(cmd.Context())
	if err != nil {
		return err
	}
	if err := (inventory.Lifecycle{Provider: a.provider}).SetState(cmd.Context(), nodes, t); err != nil {
		return err
	}
	for _, id := range nodes.IDs() {
		log.Info().Str("node", id.String()).Str("action", t.String()).Msg("requested")
	}
	return nil
}

// Run one shell command on the fleet
func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a shell command on every node, or on one role",
		RunE: func(cmd *cobra.Command, args []string) error {
			command, _ := cmd.Flags().GetString("command")
			role, err := parseRoleFlag(cmd)
			if err != nil {
				return err
			}
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			nodes, err := a.discover(cmd.Context())
			if err != nil {
				return err
			}
			c, err := a.coordinator()
			if err != nil {
				return err
			}
			started := time.Now()
			rep, err := c.ExecOnFleet(cmd.Context(), nodes, a.cfg.SSH.User, command, role)
			a.journal(cmd.Context(), rep, started)
			return err
		},
	}
	cmd.Flags().StringP("command", "c", "", "shell command to run")
	cmd.Flags().String("role", "", "only run on nodes of this role (master or worker)")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

// Upload a file to the fleet
func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload a file to every node, or to one role, via SFTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, _ := cmd.Flags().GetString("src")
			dst, _ := cmd.Flags().GetString("dst")
			if _, err := os.Stat(src); err != nil {
				return fmt.Errorf("source: %w", err)
			}
			role, err := parseRoleFlag(cmd)
			if err != nil {
				return err
			}
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			nodes, err := a.discover(cmd.Context())
			if err != nil {
				return err
			}
			c, err := a.coordinator()
			if err != nil {
				return err
			}
			started := time.Now()
			rep, err := c.PushToFleet(cmd.Context(), nodes, a.cfg.SSH.User, src, dst, role)
			a.journal(cmd.Context(), rep, started)
			return err
		},
	}
	cmd.Flags().String("src", "", "local file")
	cmd.Flags().String("dst", "", "remote path")
	cmd.Flags().String("role", "", "only push to nodes of this role (master or worker)")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")
	return cmd
}

// Show journaled runs
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent provision, exec and push runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			output, _ := cmd.Flags().GetString("output")
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := core.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Journal.Disabled {
				return errors.New("journal is disabled in the configuration")
			}
			store, err := core.NewStore(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), output, runs)
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to show")
	cmd.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func toRunRecords(runs []core.Run) []api.RunRecord {
	out := make([]api.RunRecord, 0, len(runs))
	for _, r := range runs {
		rec := api.RunRecord{
			ID:         r.ID,
			Operation:  r.Operation,
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
			DurationMS: r.Duration.Milliseconds(),
			Status:     api.RunSucceeded,
			Nodes:      r.Nodes,
			Failed:     r.Failed,
		}
		if r.Failed > 0 {
			rec.Status = api.RunFailed
		}
		for _, nr := range r.Results {
			rec.Results = append(rec.Results, api.NodeOutcome{
				ID:         nr.NodeID,
				Role:       nr.Role,
				Address:    nr.Address,
				Status:     api.StatusOf(nr.Error),
				Error:      nr.Error,
				DurationMS: nr.Duration.Milliseconds(),
			})
		}
		out = append(out, rec)
	}
	return out
}

func printHistory(w io.Writer, format string, runs []core.Run) error {
	recs := toRunRecords(runs)
	if format != "table" && format != "" {
		return encode(w, format, recs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tOPERATION\tSTARTED\tDURATION\tNODES\tFAILED\tSTATUS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.Operation, r.StartedAt,
			time.Duration(r.DurationMS)*time.Millisecond, r.Nodes, r.Failed, r.Status)
	}
	return tw.Flush()
}

// Initialize configuration directory, SSH key and known_hosts
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a config template, an SSH key and a known_hosts file if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath, _ := cmd.Flags().GetString("config")
			dir := filepath.Dir(cfgPath)
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			keyPath := filepath.Join(dir, "id_ed25519")
			if _, err := os.Stat(keyPath); errors.Is(err, os.ErrNotExist) {
				pub, err := gssh.GenerateEd25519Keypair(keyPath)
				if err != nil {
					return err
				}
				if err := os.WriteFile(keyPath+".pub", []byte(pub), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "generated %s\n", keyPath)
			}
			knownHosts := filepath.Join(dir, "known_hosts")
			if err := gssh.EnsureKnownHostsFile(knownHosts); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgPath, []byte(configTemplate(keyPath, knownHosts)), 0o600); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote %s\n", cfgPath)
			}
			return nil
		},
	}
}

func configTemplate(keyPath, knownHosts string) string {
	return `provider: aws
ssh:
  user: ubuntu
  key_path: ` + keyPath + `
  known_hosts: ` + knownHosts + `
tag:
  key: cluster
  value: my-cluster
master:
  tag: {key: role, value: master}
worker:
  tag: {key: role, value: worker}
aws:
  region: us-east-1
provision:
  runtime: containerd
fleet:
  concurrency: 0
  timeout_seconds: 0
`
}

// List provider names
func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show the selected provider and the supported ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := core.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected: %s\n", cfg.Provider)
			for _, name := range buildRegistry(cfg).Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "supported: %s\n", name)
			}
			return nil
		},
	}
}
