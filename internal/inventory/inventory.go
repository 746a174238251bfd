package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/kubeprovision/internal/node"
	"github.com/3cpo-dev/kubeprovision/internal/providers"
)

// ErrMissingInstanceID marks a provider record without an identifier.
var ErrMissingInstanceID = errors.New("instance id required")

// DiscoveryError aborts a discovery. No partial inventory accompanies it.
type DiscoveryError struct {
	Provider string
	Page     int
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s nodes (page %d): %v", e.Provider, e.Page, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Inventory enumerates and classifies the instances matching a TagSpec.
type Inventory struct {
	Provider providers.Provider
	Tags     node.TagSpec
}

func New(p providers.Provider, tags node.TagSpec) *Inventory {
	return &Inventory{Provider: p, Tags: tags}
}

// Discover pages through every instance matching Tags.Base and partitions
// them by role. Instances matching neither role filter are left out.
func (inv *Inventory) Discover(ctx context.Context) (node.ClusterNodes, error) {
	var (
		nodes   node.ClusterNodes
		token   string
		skipped int
	)
	for page := 1; ; page++ {
		res, err := inv.Provider.ListInstances(ctx, inv.Tags.Base, token)
		if err != nil {
			return node.ClusterNodes{}, inv.fail(page, err)
		}
		for _, inst := range res.Instances {
			role, ok := inv.Tags.Classify(inst.Tags)
			if !ok {
				skipped++
				log.Debug().Str("instance", inst.ID).Msg("matches neither master nor worker tag, skipping")
				continue
			}
			rec, err := record(inst)
			if err != nil {
				return node.ClusterNodes{}, inv.fail(page, err)
			}
			switch role {
			case node.Master:
				nodes.Master = append(nodes.Master, rec)
			case node.Worker:
				nodes.Worker = append(nodes.Worker, rec)
			}
		}
		if res.NextToken == "" {
			break
		}
		token = res.NextToken
	}
	log.Debug().
		Str("provider", inv.Provider.Name()).
		Int("masters", len(nodes.Master)).
		Int("workers", len(nodes.Worker)).
		Int("unclassified", skipped).
		Msg("discovery complete")
	return nodes, nil
}

func (inv *Inventory) fail(page int, err error) error {
	return &DiscoveryError{Provider: inv.Provider.Name(), Page: page, Err: err}
}

func record(inst providers.Instance) (node.Record, error) {
	id, err := node.NewID(inst.ID)
	if err != nil {
		return node.Record{}, ErrMissingInstanceID
	}
	rec := node.Record{ID: id, State: node.ParseState(inst.State)}
	if inst.PublicIP != "" {
		addr, err := netip.ParseAddr(inst.PublicIP)
		if err != nil {
			return node.Record{}, fmt.Errorf("instance %s: public ip: %w", id, err)
		}
		rec.PublicAddress = addr
	}
	return rec, nil
}
