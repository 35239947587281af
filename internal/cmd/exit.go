package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
)

// ExitCodeFor maps a non-nil command error to a semantic foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	switch {
	case stderrors.Is(err, core.ErrInvalidArgument):
		return foundry.ExitConfigInvalid
	case core.IsNetwork(err), stderrors.Is(err, receiver.ErrNotSetup), stderrors.Is(err, core.ErrForbidden):
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

// ExitWithCode exits the program with a semantic foundry exit code and logs the error.
// logger may be nil for early failures.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if originalErr, ok := envelope.Original.(error); ok && originalErr != nil {
			err = originalErr
		}
	}

	var processing *core.ProcessingError
	if stderrors.As(err, &processing) {
		fields = append(fields,
			zap.String("zone", string(processing.Zone)),
			zap.Strings("unresolved", processing.Unresolved))
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)
	_ = logger.Sync()

	os.Exit(info.Code)
}

// ExitWithCodeStderr is a variant that writes to stderr without a logger.
// Use this for early failures before logger initialization.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: %s (exit code: %d)\n", msg, exitCode)
		}
		os.Exit(int(exitCode))
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)

	os.Exit(info.Code)
}
