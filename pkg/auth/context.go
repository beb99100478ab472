package auth

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// WithFacade returns a context carrying f.
func WithFacade(ctx context.Context, f *Facade) context.Context {
	return context.WithValue(ctx, contextkeys.FacadeKey, f)
}

// Lookup returns the facade stored in ctx, if any.
func Lookup(ctx context.Context) (*Facade, bool) {
	f, ok := ctx.Value(contextkeys.FacadeKey).(*Facade)
	return f, ok && f != nil
}

// MarkCallbackCompleted records on ctx that a Wrapper finished the login on this
// callback request.
func MarkCallbackCompleted(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkeys.CallbackCompletedKey, true)
}

// CallbackCompleted reports whether a Wrapper finished the login on this request.
func CallbackCompleted(ctx context.Context) bool {
	done, _ := ctx.Value(contextkeys.CallbackCompletedKey).(bool)
	return done
}

// FromContext returns the facade stored in ctx. Calling it outside a handler wrapped by
// Facade.Middleware is a programming error and panics.
func FromContext(ctx context.Context) *Facade {
	f, ok := Lookup(ctx)
	if !ok {
		panic("auth.FromContext called outside the auth facade scope: wrap the handler with Facade.Middleware")
	}
	return f
}
