// Package autherr defines the error taxonomy of the relying-party core.
//
// Every failure a component can produce carries a Kind. Components never
// recover; they return the error to the flow orchestrator, and the host
// maps Kind.Disposition() to what the end user sees. Security-relevant
// kinds are always fatal to the attempt and never downgraded.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure.
type Kind string

const (
	// KindConfiguration: required settings missing. Fatal until fixed.
	KindConfiguration Kind = "configuration"

	// Network/format failures against the provider. Retryable by the user.
	KindDiscovery     Kind = "discovery"
	KindTokenExchange Kind = "token_exchange"
	KindUserInfo      Kind = "userinfo"

	// Token validation failures. Security-relevant, fatal to the attempt.
	KindMalformedToken        Kind = "malformed_token"
	KindInsecureAlgorithm     Kind = "insecure_algorithm"
	KindIssuerMismatch        Kind = "issuer_mismatch"
	KindAudienceMismatch      Kind = "audience_mismatch"
	KindMissingSubject        Kind = "missing_subject"
	KindNonceMismatch         Kind = "nonce_mismatch"
	KindTokenExpired          Kind = "token_expired"
	KindTokenNotYetValid      Kind = "token_not_yet_valid"
	KindSignatureVerification Kind = "signature_verification"

	// KindCSRF: state mismatch or replay. Fatal, detected before any
	// network call.
	KindCSRF Kind = "csrf"

	// KindProviderDenied: the provider returned error/error_description
	// instead of a code.
	KindProviderDenied Kind = "provider_denied"

	// Local account resolution failures.
	KindIdentityResolution Kind = "identity_resolution"
	KindUserNotFound       Kind = "user_not_found"
)

// Disposition tells the host what to show after a failed attempt.
type Disposition int

const (
	// DispositionRetry: transient, show a "try again" affordance.
	DispositionRetry Disposition = iota
	// DispositionFatal: show a terminal error message.
	DispositionFatal
	// DispositionRedirectHome: silently send the user back home.
	DispositionRedirectHome
)

// Disposition maps a kind to the caller-facing outcome. The split follows
// the propagation policy: network failures are retryable, everything
// security-relevant is fatal, and a provider denial (the user clicked
// "cancel" at the IdP) just goes home.
func (k Kind) Disposition() Disposition {
	switch k {
	case KindDiscovery, KindTokenExchange, KindUserInfo:
		return DispositionRetry
	case KindProviderDenied:
		return DispositionRedirectHome
	default:
		return DispositionFatal
	}
}

// Error is a kinded authentication error. The message is safe to log;
// provider response bodies are never embedded in it.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return string(e.Kind) + ": " + e.msg + ": " + e.err.Error()
	}
	return string(e.Kind) + ": " + e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Is makes errors.Is(err, autherr.New(kind, "")) match on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds a kinded error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Newf builds a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// KindOf extracts the kind from any error in the chain. Errors that do not
// carry a kind report "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
