package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard fields used across the relying-party core. Keeping the key names
// in one place makes log output greppable across components.

// Component names the emitting component (discovery, exchanger, ...).
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op names the operation in flight.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err wraps an error field.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Provider is the provider key an attempt runs against.
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// Issuer is the provider issuer URL.
func Issuer(v string) zap.Field {
	return zap.String("issuer", v)
}

// Endpoint is the remote endpoint of an outbound call.
func Endpoint(v string) zap.Field {
	return zap.String("endpoint", v)
}

// Status is the HTTP status of an outbound call.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// UserID is the local account ID.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// Subject is the external subject identifier.
func Subject(v string) zap.Field {
	return zap.String("subject", v)
}

// Username is a local account username.
func Username(v string) zap.Field {
	return zap.String("username", v)
}

// EmailMasked carries an already-masked email address.
func EmailMasked(v string) zap.Field {
	return zap.String("email_masked", v)
}

// Duration of an operation.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Key is a generic cache or lookup key.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// String is a generic string field.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int is a generic int field.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool is a generic bool field.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
