package remote

import "fmt"

// CommandError is returned when a remote command exits non-zero.
type CommandError struct {
	Descriptor string
	Stderr     []byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Descriptor, e.Stderr)
}

// SessionError is returned when the connection to a host fails, either while
// connecting or while running a command.
type SessionError struct {
	Cause error
}

func (e *SessionError) Error() string { return fmt.Sprintf("ssh session: %v", e.Cause) }

func (e *SessionError) Unwrap() error { return e.Cause }
