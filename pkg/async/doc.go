// Package async provides safe goroutine launching for background work.
//
// # Overview
//
// SafeGo runs a function in a goroutine with panic recovery, an optional timeout and
// context cancellation. Errors and panics are logged through logrus instead of crashing
// the process.
//
//	async.SafeGo(ctx, 30*time.Second, "keycloak session check", func(ctx context.Context) error {
//		return provider.Init(ctx)
//	})
//
// # Use Cases
//
// Asynchronous provider initialization, token refresh ticks, storage change watchers.
//
// # Related Packages
//
//   - pkg/auth: Uses SafeGo for non-mock provider initialization
//   - pkg/tenant: Uses SafeGo for the storage watcher
package async
