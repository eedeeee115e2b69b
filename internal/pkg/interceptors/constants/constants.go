package constants

// contextKey is an unexported type for context keys in this package.
// Using a custom type prevents collisions with keys from other packages
// that might use the same underlying string value.
type contextKey string

const (
	HeaderXRequestId      = "x-request-id"
	HeaderXIdempotencyKey = "x-idempotency-key"
	// HeaderXCallerAddress carries the identity the request acts as.
	HeaderXCallerAddress = "x-caller-address"

	// ContextKeyRequestID is the context key for the request ID.
	ContextKeyRequestID contextKey = HeaderXRequestId
	// ContextKeyIdempotencyKey is the context key for the idempotency key.
	ContextKeyIdempotencyKey contextKey = HeaderXIdempotencyKey
	// ContextKeyCaller is the context key for the caller address.
	ContextKeyCaller contextKey = HeaderXCallerAddress
)

// HeaderXIdempotentReplayed marks an HTTP response served from the
// idempotency cache.
const HeaderXIdempotentReplayed = "x-idempotent-replayed"
