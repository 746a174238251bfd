package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/kubeprovision/internal/node"
	"github.com/3cpo-dev/kubeprovision/internal/remote"
	"github.com/3cpo-dev/kubeprovision/internal/ssh"
	"github.com/3cpo-dev/kubeprovision/internal/telemetry"
)

// ErrNoPublicAddress is returned for a node that cannot be reached because
// it has no public address, usually because it is not started.
var ErrNoPublicAddress = errors.New("node has no public address")

// Session is a remote session owned by exactly one node task.
type Session interface {
	remote.Session
	io.Closer
}

// Uploader is implemented by sessions able to copy files to their host.
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// Connector opens sessions to hosts.
type Connector interface {
	Connect(ctx context.Context, user, host string) (Session, error)
}

// Provisioner prepares a single node over an open session.
type Provisioner interface {
	Run(ctx context.Context, s remote.Session, role node.Role, rec node.Record) error
}

// DialConnector adapts an ssh.Dialer to Connector.
type DialConnector struct {
	Dialer *ssh.Dialer
}

func (d DialConnector) Connect(ctx context.Context, user, host string) (Session, error) {
	s, err := d.Dialer.Connect(ctx, user, host)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Coordinator fans an operation out across nodes. Every node runs in its own
// goroutine with its own session; all results are collected before returning.
type Coordinator struct {
	Connector   Connector
	Provisioner Provisioner
	// Concurrency bounds the number of nodes worked on at once. Zero means
	// no bound.
	Concurrency int
	// Timeout, when set, is one deadline shared by every node task.
	Timeout time.Duration
}

// ProvisionFleet runs the provisioning script on every node.
func (c *Coordinator) ProvisionFleet(ctx context.Context, nodes node.ClusterNodes, user string) (Report, error) {
	if c.Provisioner == nil {
		return Report{}, errors.New("fleet: no provisioner configured")
	}
	rep := c.fanOut(ctx, "provision", nodes.Select(nil), user, func(ctx context.Context, s Session, m node.Member) error {
		return c.Provisioner.Run(ctx, s, m.Role, m.Record)
	})
	return rep, rep.Err()
}

// ExecOnFleet runs command once through the shell on every node, or only on
// nodes of role when role is non-nil.
func (c *Coordinator) ExecOnFleet(ctx context.Context, nodes node.ClusterNodes, user, command string, role *node.Role) (Report, error) {
	cmd := remote.Script{Text: command}
	rep := c.fanOut(ctx, "exec", nodes.Select(role), user, func(ctx context.Context, s Session, _ node.Member) error {
		return remote.Execute(ctx, s, cmd)
	})
	return rep, rep.Err()
}

// PushToFleet uploads localPath to remotePath on every selected node.
func (c *Coordinator) PushToFleet(ctx context.Context, nodes node.ClusterNodes, user, localPath, remotePath string, role *node.Role) (Report, error) {
	rep := c.fanOut(ctx, "push", nodes.Select(role), user, func(ctx context.Context, s Session, _ node.Member) error {
		up, ok := s.(Uploader)
		if !ok {
			return errors.New("session does not support file upload")
		}
		return up.Upload(ctx, localPath, remotePath)
	})
	return rep, rep.Err()
}

type task func(ctx context.Context, s Session, m node.Member) error

func (c *Coordinator) fanOut(ctx context.Context, op string, members []node.Member, user string, fn task) Report {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	start := time.Now()
	results := make([]NodeResult, len(members))

	// tasks never return an error so Wait can not short-circuit on one node
	var g errgroup.Group
	if c.Concurrency > 0 {
		g.SetLimit(c.Concurrency)
	}
	for i, m := range members {
		g.Go(func() error {
			t0 := time.Now()
			err := c.runNode(ctx, user, m, fn)
			results[i] = NodeResult{Role: m.Role, Node: m.Record, Err: err, Duration: time.Since(t0)}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Operation: op, Results: results}
	for _, r := range results {
		ev := logger.Info()
		if r.Err != nil {
			ev = logger.Error().Err(r.Err)
		}
		ev.Str("op", op).Str("node", r.Node.ID.String()).Str("role", r.Role.String()).
			Dur("duration", r.Duration).Msg("node finished")
	}
	telemetry.RecordFleetRun(op, len(results), time.Since(start), rep.Succeeded(), rep.Failed())
	return rep
}

func (c *Coordinator) runNode(ctx context.Context, user string, m node.Member, fn task) error {
	if !m.Record.HasPublicAddress() {
		return ErrNoPublicAddress
	}
	if c.Connector == nil {
		return errors.New("fleet: no connector configured")
	}
	s, err := c.Connector.Connect(ctx, user, m.Record.PublicAddress.String())
	if err != nil {
		return &remote.SessionError{Cause: err}
	}
	defer func() { _ = s.Close() }()
	return fn(ctx, s, m)
}

// NodeResult is the outcome of one node's task.
type NodeResult struct {
	Role     node.Role
	Node     node.Record
	Err      error
	Duration time.Duration
}

// Report holds one result per selected node, in selection order.
type Report struct {
	Operation string
	Results   []NodeResult
}

// Succeeded counts nodes whose task completed without error.
func (r Report) Succeeded() int { return len(r.Results) - r.Failed() }

// Failed counts nodes whose task returned an error.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Err returns a *FleetError naming every failed node, or nil.
func (r Report) Err() error {
	var failed []NodeResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &FleetError{Operation: r.Operation, Total: len(r.Results), Failures: failed}
}

// FleetError aggregates per-node failures of one fan-out operation.
type FleetError struct {
	Operation string
	Total     int
	Failures  []NodeResult
}

func (e *FleetError) Error() string {
	msg := fmt.Sprintf("%s failed on %d of %d nodes", e.Operation, len(e.Failures), e.Total)
	for _, f := range e.Failures {
		msg += fmt.Sprintf("; %s (%s): %v", f.Node.ID, f.Role, f.Err)
	}
	return msg
}

// Unwrap exposes every node error to errors.Is and errors.As.
func (e *FleetError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
