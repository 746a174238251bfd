package providers

import (
	"context"

	"github.com/3cpo-dev/kubeprovision/internal/node"
)

// Instance is a provider's raw view of one compute instance. ID may be empty
// when the provider returned a malformed record; callers must reject it.
type Instance struct {
	ID       string
	PublicIP string
	State    string
	Tags     []node.Tag
}

// Page is one slice of a paginated listing. An empty NextToken ends the listing.
type Page struct {
	Instances []Instance
	NextToken string
}

// Provider is the cloud inventory capability used by discovery and lifecycle.
type Provider interface {
	Name() string
	ListInstances(ctx context.Context, filter node.TagFilter, token string) (Page, error)
	StartInstances(ctx context.Context, ids []node.ID) error
	StopInstances(ctx context.Context, ids []node.ID) error
}
