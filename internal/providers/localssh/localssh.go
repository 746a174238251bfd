package localssh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/3cpo-dev/kubeprovision/internal/node"
	"github.com/3cpo-dev/kubeprovision/internal/providers"
)

// DefaultPageSize bounds how many hosts one ListInstances call returns.
const DefaultPageSize = 100

// Provider serves a static host list from the configuration, for lab and
// bare-metal fleets that already exist. Hosts cannot be started or stopped.
type Provider struct {
	hosts    []providers.LocalHost
	PageSize int
}

func New(cfg providers.Config) *Provider {
	return &Provider{hosts: cfg.LocalSSH.Hosts, PageSize: DefaultPageSize}
}

func (p *Provider) Name() string { return "localssh" }

// ListInstances pages through the configured hosts. The token is the offset
// of the next host to examine.
func (p *Provider) ListInstances(ctx context.Context, filter node.TagFilter, token string) (providers.Page, error) {
	if err := ctx.Err(); err != nil {
		return providers.Page{}, err
	}
	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(p.hosts) {
			return providers.Page{}, fmt.Errorf("localssh: invalid page token %q", token)
		}
		start = n
	}
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	end := min(start+size, len(p.hosts))

	var page providers.Page
	for _, h := range p.hosts[start:end] {
		inst := providers.Instance{ID: h.ID, PublicIP: h.IP, State: h.State, Tags: tags(h.Tags)}
		if inst.State == "" {
			inst.State = "running"
		}
		if filter.MatchesAny(inst.Tags) {
			page.Instances = append(page.Instances, inst)
		}
	}
	if end < len(p.hosts) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (p *Provider) StartInstances(ctx context.Context, ids []node.ID) error {
	return fmt.Errorf("localssh: start %d hosts: %w", len(ids), errors.ErrUnsupported)
}

func (p *Provider) StopInstances(ctx context.Context, ids []node.ID) error {
	return fmt.Errorf("localssh: stop %d hosts: %w", len(ids), errors.ErrUnsupported)
}

// tags flattens the YAML map in key order so classification is deterministic.
func tags(m map[string]string) []node.Tag {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]node.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, node.Tag{Key: k, Value: m[k]})
	}
	return out
}
