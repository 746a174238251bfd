package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/kubeprovision/internal/node"
	"github.com/3cpo-dev/kubeprovision/internal/providers"
)

// pagedProvider serves pre-built pages, recording every call.
type pagedProvider struct {
	pages    []providers.Page
	failAt   int
	listErr  error
	tokens   []string
	filters  []node.TagFilter
	started  [][]node.ID
	stopped  [][]node.ID
	batchErr error
}

func (p *pagedProvider) Name() string { return "fake" }

func (p *pagedProvider) ListInstances(_ context.Context, f node.TagFilter, token string) (providers.Page, error) {
	p.tokens = append(p.tokens, token)
	p.filters = append(p.filters, f)
	i := len(p.tokens) - 1
	if p.listErr != nil && i == p.failAt {
		return providers.Page{}, p.listErr
	}
	return p.pages[i], nil
}

func (p *pagedProvider) StartInstances(_ context.Context, ids []node.ID) error {
	p.started = append(p.started, ids)
	return p.batchErr
}

func (p *pagedProvider) StopInstances(_ context.Context, ids []node.ID) error {
	p.stopped = append(p.stopped, ids)
	return p.batchErr
}

var testTags = node.TagSpec{
	Base:   node.ValueFilter("cluster", "demo"),
	Master: node.ValueFilter("role", "master"),
	Worker: node.ValueFilter("role", "worker"),
}

func inst(id, role string) providers.Instance {
	return providers.Instance{
		ID:       id,
		PublicIP: "203.0.113.10",
		State:    "running",
		Tags:     []node.Tag{{Key: "cluster", Value: "demo"}, {Key: "role", Value: role}},
	}
}

// paginate splits instances into pages of size, chaining tokens.
func paginate(all []providers.Instance, size int) []providers.Page {
	var pages []providers.Page
	for i := 0; i < len(all); i += size {
		end := min(i+size, len(all))
		p := providers.Page{Instances: all[i:end]}
		if end < len(all) {
			p.NextToken = "t" + strconv.Itoa(end)
		}
		pages = append(pages, p)
	}
	if len(pages) == 0 {
		pages = append(pages, providers.Page{})
	}
	return pages
}

func TestDiscoverExhaustsPages(t *testing.T) {
	for _, tc := range []struct{ n, size int }{{0, 3}, {1, 3}, {3, 3}, {7, 3}, {10, 1}} {
		t.Run(fmt.Sprintf("n=%d/size=%d", tc.n, tc.size), func(t *testing.T) {
			var all []providers.Instance
			var wantMasters, wantWorkers []node.ID
			for i := 0; i < tc.n; i++ {
				id := fmt.Sprintf("i-%02d", i)
				switch i % 3 {
				case 0:
					all = append(all, inst(id, "master"))
					wantMasters = append(wantMasters, node.ID(id))
				case 1:
					all = append(all, inst(id, "worker"))
					wantWorkers = append(wantWorkers, node.ID(id))
				default:
					all = append(all, inst(id, "bastion"))
				}
			}
			p := &pagedProvider{pages: paginate(all, tc.size)}

			nodes, err := New(p, testTags).Discover(context.Background())
			require.NoError(t, err)

			assert.Len(t, p.tokens, len(p.pages))
			assert.Equal(t, "", p.tokens[0])
			for _, f := range p.filters {
				assert.Equal(t, testTags.Base, f)
			}
			assert.Equal(t, wantMasters, ids(nodes.Master))
			assert.Equal(t, wantWorkers, ids(nodes.Worker))
		})
	}
}

func TestDiscoverRecords(t *testing.T) {
	noIP := inst("i-2", "worker")
	noIP.PublicIP = ""
	noIP.State = "stopped"
	p := &pagedProvider{pages: []providers.Page{{Instances: []providers.Instance{inst("i-1", "master"), noIP}}}}

	nodes, err := New(p, testTags).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes.Master, 1)
	assert.Equal(t, node.Record{ID: "i-1", PublicAddress: netip.MustParseAddr("203.0.113.10"), State: node.Running}, nodes.Master[0])
	require.Len(t, nodes.Worker, 1)
	assert.False(t, nodes.Worker[0].HasPublicAddress())
	assert.Equal(t, node.Stopped, nodes.Worker[0].State)
}

func TestDiscoverBothFiltersIsMaster(t *testing.T) {
	tags := node.TagSpec{Base: node.KeyFilter("k8s"), Master: node.KeyFilter("k8s"), Worker: node.KeyFilter("k8s")}
	p := &pagedProvider{pages: []providers.Page{{Instances: []providers.Instance{
		{ID: "i-1", Tags: []node.Tag{{Key: "k8s"}}},
	}}}}
	nodes, err := New(p, tags).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []node.ID{"i-1"}, ids(nodes.Master))
	assert.Empty(t, nodes.Worker)
}

func TestDiscoverProviderErrorAborts(t *testing.T) {
	boom := errors.New("throttled")
	p := &pagedProvider{
		pages:   []providers.Page{{Instances: []providers.Instance{inst("i-1", "master")}, NextToken: "t1"}, {}},
		failAt:  1,
		listErr: boom,
	}
	nodes, err := New(p, testTags).Discover(context.Background())
	assert.ErrorIs(t, err, boom)
	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 2, derr.Page)
	assert.Zero(t, nodes.Len())
}

func TestDiscoverMissingIDAborts(t *testing.T) {
	p := &pagedProvider{pages: []providers.Page{{Instances: []providers.Instance{inst("i-1", "master"), inst("", "worker")}}}}
	nodes, err := New(p, testTags).Discover(context.Background())
	assert.ErrorIs(t, err, ErrMissingInstanceID)
	assert.Zero(t, nodes.Len())
}

func TestDiscoverUnclassifiedWithoutIDIsSkipped(t *testing.T) {
	p := &pagedProvider{pages: []providers.Page{{Instances: []providers.Instance{inst("", "bastion"), inst("i-1", "worker")}}}}
	nodes, err := New(p, testTags).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []node.ID{"i-1"}, ids(nodes.Worker))
}

func TestDiscoverBadPublicIP(t *testing.T) {
	bad := inst("i-1", "master")
	bad.PublicIP = "not-an-ip"
	p := &pagedProvider{pages: []providers.Page{{Instances: []providers.Instance{bad}}}}
	_, err := New(p, testTags).Discover(context.Background())
	var derr *DiscoveryError
	assert.ErrorAs(t, err, &derr)
}

func ids(recs []node.Record) []node.ID {
	var out []node.ID
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
