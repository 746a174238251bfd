package remote

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Execute runs cmd over s. Stdout is not returned; only a failure carries
// data, in the form of a *CommandError holding the captured stderr, or a
// *SessionError when the transport broke.
func Execute(ctx context.Context, s Session, cmd Command) error {
	desc := cmd.Describe()
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	out, err := s.Run(ctx, cmd.Invocation())
	if err != nil {
		logger.Error().Err(err).Str("command", desc).Msg("session failed")
		return &SessionError{Cause: err}
	}
	if !out.Succeeded {
		logger.Error().Str("command", desc).Bytes("stderr", out.Stderr).Msg("failed")
		return &CommandError{Descriptor: desc, Stderr: out.Stderr}
	}
	logger.Info().Str("command", desc).Msg("success")
	return nil
}
