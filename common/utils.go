// Package common provides small generic helpers shared across kgraphsvc's
// packages: secret masking for log output and pointer conversions for the
// optional fields threaded through the state store and trigger results.
package common

// MaskSecret masks a credential for safe logging. Strings longer than 8
// characters keep their first and last 4; anything shorter collapses to
// "***" so the length itself isn't leaked; empty strings report as unset.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Ptr returns a pointer to v, for building the optional *string fields on
// kgstore.State and build.TriggerResult from a local value in one expression.
func Ptr[T any](v T) *T {
	return &v
}

// PtrValue returns the pointee of ptr, or T's zero value if ptr is nil.
func PtrValue[T any](ptr *T) T {
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}
