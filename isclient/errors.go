package isclient

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthNotSupported is returned by account operations on a version 1 client.
	ErrAuthNotSupported = errors.New("only v2 supports authentication")

	// ErrNoMailSource is returned by mail-reading operations on a client created without
	// WithMailSource.
	ErrNoMailSource = errors.New("client has no mail source")

	ErrMailHasNoData  = errors.New("mail has no data")
	ErrTokenNotFound  = errors.New("failed to match token from mail")
	ErrMissingSession = errors.New("requestToken response did not include a sid")
)

// SubmitFailedError means the identity server did not report success for a token submission
// that was part of a composite flow.
type SubmitFailedError struct {
	Response Response
}

func (e *SubmitFailedError) Error() string {
	return fmt.Sprintf("submit token failed: %s", e.Response)
}

// RegisterFailedError means account registration did not return an access token.
type RegisterFailedError struct {
	Response Response
}

func (e *RegisterFailedError) Error() string {
	return fmt.Sprintf("account registration failed: %s", e.Response)
}
