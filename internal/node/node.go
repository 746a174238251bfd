package node

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrEmptyID is returned when a node identifier is blank.
var ErrEmptyID = errors.New("node id must not be empty")

// ID identifies a compute instance. It is never empty.
type ID string

// NewID validates and returns an ID.
func NewID(s string) (ID, error) {
	if s == "" {
		return "", ErrEmptyID
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }

// Role is the cluster role assigned at discovery time.
type Role int

const (
	Master Role = iota
	Worker
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Worker:
		return "worker"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole accepts "master" or "worker" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "master":
		return Master, nil
	case "worker":
		return Worker, nil
	default:
		return 0, fmt.Errorf("unknown node role: %q (want master or worker)", s)
	}
}

// State is the provider-reported lifecycle state of an instance.
type State int

const (
	Unknown State = iota
	Pending
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ParseState maps a provider state name onto State. Unrecognised names are Unknown.
func ParseState(s string) State {
	switch strings.ToLower(s) {
	case "pending":
		return Pending
	case "running":
		return Running
	case "stopping", "shutting-down":
		return Stopping
	case "stopped", "terminated":
		return Stopped
	default:
		return Unknown
	}
}

// Record is an immutable snapshot of one discovered instance.
// A zero PublicAddress means the instance has no public address.
type Record struct {
	ID            ID
	PublicAddress netip.Addr
	State         State
}

// HasPublicAddress reports whether the node can be reached for provisioning.
func (r Record) HasPublicAddress() bool { return r.PublicAddress.IsValid() }

// ClusterNodes is the role partition produced by one discovery. It is read-only
// after construction; re-run discovery instead of mutating it.
type ClusterNodes struct {
	Master []Record
	Worker []Record
}

// Len returns the total number of nodes across both roles.
func (c ClusterNodes) Len() int { return len(c.Master) + len(c.Worker) }

// IDs returns master ids followed by worker ids.
func (c ClusterNodes) IDs() []ID {
	ids := make([]ID, 0, c.Len())
	c.Each(func(_ Role, r Record) { ids = append(ids, r.ID) })
	return ids
}

// Each calls fn for every node, masters first.
func (c ClusterNodes) Each(fn func(Role, Record)) {
	for _, r := range c.Master {
		fn(Master, r)
	}
	for _, r := range c.Worker {
		fn(Worker, r)
	}
}

// Member pairs a node with the role it was discovered under.
type Member struct {
	Role   Role
	Record Record
}

// Select returns every node, or only those of role when role is non-nil.
func (c ClusterNodes) Select(role *Role) []Member {
	var out []Member
	c.Each(func(r Role, rec Record) {
		if role == nil || *role == r {
			out = append(out, Member{Role: r, Record: rec})
		}
	})
	return out
}
