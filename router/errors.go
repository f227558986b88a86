package router

import "errors"

// Sentinel errors returned by the router's public API.
var (
	ErrConversationNotFound   = errors.New("router: conversation not found")
	ErrRelayNotConnected      = errors.New("router: relay not connected")
	ErrEncryptionNotSupported = errors.New("router: recipient does not support encryption")
	ErrUserNotSet             = errors.New("router: no user configured for this operation")
	ErrShutdown               = errors.New("router: actor is shutting down")
)
