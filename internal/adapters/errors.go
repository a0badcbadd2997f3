// Package adapters implements the per-protocol Fetchable/Streamable
// source adapters: token-HTTPS fetch, basic-auth HTTPS poll-with-cache
// stream, AMQP topic consumer, raw TCP in-band-framed stream, and
// TLS-with-optional-CONNECT-proxy. Each adapter authenticates against
// its site and emits records onto a channel, reporting counters
// through a shared stats handle.
package adapters

import "errors"

// AuthError is the authentication error family. Kind selects the
// failure mode; Subject carries the path, login, or raw message it
// refers to.
type AuthError struct {
	Kind    AuthErrorKind
	Subject string // path, login, or raw message depending on Kind
	Cause   error
}

type AuthErrorKind string

const (
	AuthExpired   AuthErrorKind = "expired"
	AuthInvalid   AuthErrorKind = "invalid"
	AuthRetrieval AuthErrorKind = "retrieval"
	AuthDecoding  AuthErrorKind = "decoding"
	AuthHTTP      AuthErrorKind = "http"
	AuthStoring   AuthErrorKind = "storing"
)

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Subject + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Subject
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Data-access sentinels.
var (
	ErrBadProxyString     = errors.New("adapters: malformed proxy string")
	ErrProxyConnectFailed = errors.New("adapters: proxy CONNECT failed")
	ErrTLSConnectFailed   = errors.New("adapters: tls connect failed")
	ErrBadPacketData      = errors.New("adapters: malformed packet data")
)
