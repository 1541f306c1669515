package service

import (
	"errors"
)

var (
	// ErrNotAuthenticated is returned when a connection attempts an operation
	// that requires a completed auth exchange.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthenticationFailed is returned when token verification fails; the
	// connection is closed afterwards.
	ErrAuthenticationFailed = errors.New("authentication failed")

	ErrProfileIDRequired  = errors.New("profile ID is required")
	ErrReceiverRequired   = errors.New("receiver ID is required")
	ErrContentRequired    = errors.New("message content is required")
	ErrMessageIDRequired  = errors.New("message ID is required")
	ErrMessageNotSaved    = errors.New("message could not be saved")
	ErrConnectionsAtLimit = errors.New("connection limit reached")
)
