package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrNoVersion        = errors.New("version not found")
	ErrNothingToRun     = errors.New("no idle images to process")
	ErrNothingToExport  = errors.New("no completed images to export")
	ErrAlreadyInFlight  = errors.New("another image is already processing")
	ErrCredentialNeeded = errors.New("credential selection required")
)

// AuthorizationError reports a missing or rejected upstream credential.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "authorization failed: select a valid API key"
	}
	return e.Message
}

// EnhancementError carries an upstream failure message verbatim.
type EnhancementError struct {
	Message string
	Err     error
}

func (e *EnhancementError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "failed to enhance image"
}

func (e *EnhancementError) Unwrap() error { return e.Err }

// EmptyResultError is returned when the upstream succeeds without an image payload.
type EmptyResultError struct {
	Model string
}

func (e *EmptyResultError) Error() string {
	if e.Model == "" {
		return "upstream did not return an enhanced image"
	}
	return fmt.Sprintf("%s did not return an enhanced image", e.Model)
}

// TimeoutError is returned when an enhancement call exceeds its deadline.
type TimeoutError struct {
	After string
}

func (e *TimeoutError) Error() string {
	if e.After == "" {
		return "enhancement timed out"
	}
	return "enhancement timed out after " + e.After
}

// ArchiveError aborts a whole export.
type ArchiveError struct {
	Op  string
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}
