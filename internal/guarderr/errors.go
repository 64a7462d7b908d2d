// Package guarderr defines the error kinds shared by the guard, risk and
// storage layers. Denial kinds are surfaced as decision reasons; only the
// infrastructure kinds are returned as errors from an evaluation.
package guarderr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for invalid limit values. Fatal for the cycle.
	ErrConfiguration = errors.New("configuration error")

	// ErrStateRead is returned when persisted guard state cannot be loaded
	ErrStateRead = errors.New("state read error")

	// ErrStateWrite is returned when persisted guard state cannot be saved
	ErrStateWrite = errors.New("state write error")

	// ErrStateNotFound is returned by stores when a required record is absent
	ErrStateNotFound = errors.New("state not found")

	// ErrGuardEvaluationFailed wraps any infrastructure failure during a guard pass
	ErrGuardEvaluationFailed = errors.New("guard evaluation failed")

	ErrGuardTripped       = errors.New("system guard tripped")
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrExposureBreach     = errors.New("exposure breach")
	ErrLeverageExceeded   = errors.New("leverage exceeded")
	ErrValidationFailed   = errors.New("validation failed")

	// ErrBrokerSession marks an execution failure caused by a lost broker
	// session; it hard-trips the system guard
	ErrBrokerSession = errors.New("broker session lost")

	// ErrExecutionFailed wraps an executor error returned from a trade cycle
	ErrExecutionFailed = errors.New("execution failed")

	// ErrRecoveryFailed is logged when an auto-recovery precondition is not met
	ErrRecoveryFailed = errors.New("recovery failed")
)

// Configuration builds an ErrConfiguration for one invalid field
func Configuration(field string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrConfiguration, field, fmt.Sprintf(format, args...))
}

// StateRead wraps a storage read failure
func StateRead(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStateRead, what, err)
}

// StateWrite wraps a storage write failure
func StateWrite(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStateWrite, what, err)
}

// EvaluationFailed wraps err so that callers can match both the evaluation
// failure and the underlying storage kind with errors.Is.
func EvaluationFailed(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrGuardEvaluationFailed, stage, err)
}

// IsInfrastructure reports whether err is a storage/evaluation failure rather
// than a configuration problem.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrStateRead) ||
		errors.Is(err, ErrStateWrite) ||
		errors.Is(err, ErrGuardEvaluationFailed)
}
