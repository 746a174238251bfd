package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/kubeprovision/internal/core"
	"github.com/3cpo-dev/kubeprovision/internal/fleet"
	"github.com/3cpo-dev/kubeprovision/internal/inventory"
	"github.com/3cpo-dev/kubeprovision/internal/node"
	prov "github.com/3cpo-dev/kubeprovision/internal/providers"
	awsprov "github.com/3cpo-dev/kubeprovision/internal/providers/aws"
	localssh "github.com/3cpo-dev/kubeprovision/internal/providers/localssh"
	vlt "github.com/3cpo-dev/kubeprovision/internal/providers/vultr"
	"github.com/3cpo-dev/kubeprovision/internal/provision"
	gssh "github.com/3cpo-dev/kubeprovision/internal/ssh"
	"github.com/3cpo-dev/kubeprovision/internal/telemetry"
)

// app is everything a subcommand needs, resolved once from the config.
type app struct {
	cfg      prov.Config
	provider prov.Provider
}

// Resolve the configuration and the selected provider
func resolveApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	p, err := buildRegistry(cfg).Get(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry.Enabled {
		telemetry.InitGlobal(true, cfg.Telemetry.OTLPEndpoint)
	}
	log.Debug().Str("provider", p.Name()).Str("config", cfgPath).Msg("configuration loaded")
	return &app{cfg: cfg, provider: p}, nil
}

// Only the selected provider is built, so only it needs working credentials.
func buildRegistry(cfg prov.Config) *prov.Registry {
	reg := prov.NewRegistry()
	reg.Register(localssh.New(cfg))
	reg.Register(vlt.New(cfg))
	reg.RegisterFactory("aws", func() (prov.Provider, error) { return awsprov.New(cfg) })
	return reg
}

func (a *app) discover(ctx context.Context) (node.ClusterNodes, error) {
	return inventory.New(a.provider, a.cfg.TagSpec()).Discover(ctx)
}

func (a *app) dialer() (*gssh.Dialer, error) {
	auth, err := gssh.AuthMethods(a.cfg.SSH.KeyPath)
	if err != nil {
		return nil, err
	}
	var hostKeys = gssh.AcceptNewCallback
	if a.cfg.SSH.StrictHostKeys {
		hostKeys = gssh.LoadKnownHostsCallback
	}
	kh, err := hostKeys(a.cfg.SSH.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("known hosts: %w", err)
	}
	return &gssh.Dialer{
		Port:       a.cfg.SSH.Port,
		Auth:       auth,
		KnownHosts: kh,
		Timeout:    time.Duration(a.cfg.SSH.TimeoutSeconds) * time.Second,
	}, nil
}

func (a *app) coordinator() (*fleet.Coordinator, error) {
	d, err := a.dialer()
	if err != nil {
		return nil, err
	}
	return &fleet.Coordinator{
		Connector: fleet.DialConnector{Dialer: d},
		Provisioner: provision.NewRunner(provision.Options{
			Runtime: a.cfg.Provision.Runtime,
			Modules: a.cfg.Provision.Modules,
			Sysctl:  a.cfg.Provision.Sysctl,
		}),
		Concurrency: a.cfg.Fleet.Concurrency,
		Timeout:     time.Duration(a.cfg.Fleet.TimeoutSeconds) * time.Second,
	}, nil
}

// openJournal returns nil when journaling is disabled.
func (a *app) openJournal() (*core.Store, error) {
	if a.cfg.Journal.Disabled {
		return nil, nil
	}
	return core.NewStore(a.cfg.Journal.Path)
}

// journal records rep; a journal failure never fails the operation itself.
func (a *app) journal(ctx context.Context, rep fleet.Report, started time.Time) {
	store, err := a.openJournal()
	if err != nil {
		log.Warn().Err(err).Msg("open journal")
		return
	}
	if store == nil {
		return
	}
	defer store.Close()
	id, err := store.RecordReport(ctx, rep, started)
	if err != nil {
		log.Warn().Err(err).Msg("record run")
		return
	}
	log.Debug().Int64("run", id).Str("op", rep.Operation).Msg("run journaled")
}

func parseRoleFlag(cmd *cobra.Command) (*node.Role, error) {
	s, _ := cmd.Flags().GetString("role")
	if s == "" {
		return nil, nil
	}
	r, err := node.ParseRole(s)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
