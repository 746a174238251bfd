package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/kubeprovision/internal/node"
)

func TestSetStateEmptyIsNoop(t *testing.T) {
	p := &pagedProvider{}
	l := Lifecycle{Provider: p}
	require.NoError(t, l.SetState(context.Background(), node.ClusterNodes{}, Start))
	require.NoError(t, l.SetState(context.Background(), node.ClusterNodes{}, Stop))
	assert.Empty(t, p.started)
	assert.Empty(t, p.stopped)
}

func TestSetStateSingleBatch(t *testing.T) {
	p := &pagedProvider{}
	nodes := node.ClusterNodes{
		Master: []node.Record{{ID: "m1"}},
		Worker: []node.Record{{ID: "w1"}, {ID: "w2"}},
	}
	l := Lifecycle{Provider: p}

	require.NoError(t, l.SetState(context.Background(), nodes, Start))
	require.Len(t, p.started, 1)
	assert.Equal(t, []node.ID{"m1", "w1", "w2"}, p.started[0])

	require.NoError(t, l.SetState(context.Background(), nodes, Stop))
	require.Len(t, p.stopped, 1)
	assert.Equal(t, []node.ID{"m1", "w1", "w2"}, p.stopped[0])
}

func TestSetStateProviderError(t *testing.T) {
	boom := errors.New("IncorrectInstanceState")
	p := &pagedProvider{batchErr: boom}
	err := Lifecycle{Provider: p}.SetState(context.Background(), node.ClusterNodes{Worker: []node.Record{{ID: "w1"}}}, Stop)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stop 1 nodes")
}
