package inventory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/kubeprovision/internal/node"
	"github.com/3cpo-dev/kubeprovision/internal/providers"
)

// Transition is the requested lifecycle change.
type Transition int

const (
	Start Transition = iota
	Stop
)

func (t Transition) String() string {
	if t == Stop {
		return "stop"
	}
	return "start"
}

// Lifecycle starts or stops whole node sets in one provider call.
type Lifecycle struct {
	Provider providers.Provider
}

// SetState issues a single batch start or stop for every node in nodes. It
// returns without calling the provider when there are no nodes, since
// providers reject empty batches. It does not wait for the transition.
func (l Lifecycle) SetState(ctx context.Context, nodes node.ClusterNodes, t Transition) error {
	ids := nodes.IDs()
	if len(ids) == 0 {
		log.Debug().Str("transition", t.String()).Msg("no nodes, nothing to do")
		return nil
	}
	var err error
	switch t {
	case Start:
		err = l.Provider.StartInstances(ctx, ids)
	case Stop:
		err = l.Provider.StopInstances(ctx, ids)
	default:
		return fmt.Errorf("unknown transition %d", int(t))
	}
	if err != nil {
		return fmt.Errorf("%s %d nodes: %w", t, len(ids), err)
	}
	return nil
}
