package remote

import (
	"context"
	"fmt"
	"strings"
)

const (
	privilegePrefix = "sudo"
	shell           = "bash"
)

// Invocation is the concrete program and argument vector sent to a host.
type Invocation struct {
	Name string
	Args []string
}

func (i Invocation) String() string {
	if len(i.Args) == 0 {
		return i.Name
	}
	return i.Name + " " + strings.Join(i.Args, " ")
}

// Command is one of Privileged, Script or Named. The set is closed.
type Command interface {
	// Invocation returns the execution shape for the command.
	Invocation() Invocation
	// Describe returns the line logged for the command and embedded in its errors.
	Describe() string
	command()
}

// Privileged runs Args through the privilege-elevation prefix.
type Privileged struct {
	Args []string
}

func (c Privileged) Invocation() Invocation {
	return Invocation{Name: privilegePrefix, Args: append([]string(nil), c.Args...)}
}

func (c Privileged) Describe() string {
	return privilegePrefix + " " + strings.Join(c.Args, " ")
}

func (Privileged) command() {}

// Script runs Text through a shell interpreter as a single argument.
type Script struct {
	Text string
}

func (c Script) Invocation() Invocation {
	return Invocation{Name: shell, Args: []string{"-c", c.Text}}
}

func (c Script) Describe() string { return shell + " -c " + c.Text }

func (Script) command() {}

// Named runs Executable directly with Args, without shell interpretation.
type Named struct {
	Executable string
	Args       []string
}

func (c Named) Invocation() Invocation {
	return Invocation{Name: c.Executable, Args: append([]string(nil), c.Args...)}
}

func (c Named) Describe() string {
	return Invocation{Name: c.Executable, Args: c.Args}.String()
}

func (Named) command() {}

// Outcome is the result of a completed remote process.
type Outcome struct {
	Succeeded bool
	Stderr    []byte
}

// Session runs invocations on a single host. A non-nil error means the
// transport failed; a process that ran and exited non-zero is reported
// through Outcome.
type Session interface {
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}

// Sudo is shorthand for Privileged{Args: args}.
func Sudo(args ...string) Privileged { return Privileged{Args: args} }

// Bash is shorthand for Script{Text: format}, formatted when args are given.
func Bash(format string, args ...any) Script {
	if len(args) == 0 {
		return Script{Text: format}
	}
	return Script{Text: fmt.Sprintf(format, args...)}
}

// Exec is shorthand for Named{Executable: exe, Args: args}.
func Exec(exe string, args ...string) Named { return Named{Executable: exe, Args: args} }
