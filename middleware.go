package idem

import "context"

// HandlerFunc is a framework-agnostic invocation handler: payload in,
// serialized result out.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// MakeIdempotent wraps fn so that each invocation runs at most once per
// idempotency key. It is a plain function wrapper: adapting richer
// invocation frameworks is a matter of marshaling their request into the
// payload before calling the wrapped function.
func MakeIdempotent(fn HandlerFunc, store Store, opts ...HandlerOption) HandlerFunc {
	h := NewHandler(store, opts...)
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		return h.Execute(ctx, payload, WorkFunc(fn))
	}
}
