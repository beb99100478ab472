// Package storage provides the durable key/value backends gatehouse persists session
// credentials and the selected organization in.
//
// # Overview
//
// Everything the gateway remembers between requests and restarts is a small string under a
// well-known key: the mock user record, hosted-provider credentials, OAuth state, and the
// selected organization ID. The KV interface covers exactly that:
//
//	type KV interface {
//		Get(ctx context.Context, key string) (string, error) // ErrNotFound when absent
//		Set(ctx context.Context, key, value string) error
//		Delete(ctx context.Context, key string) error
//	}
//
// # Backend Implementations
//
// MemoryStore: process-local map, used by tests and the mock provider in development.
//
// FileStore: a single JSON file replaced atomically on each write. It implements Watcher,
// reporting keys changed by another process through fsnotify.
//
//	kv, err := storage.NewFileStore("/var/lib/gatehouse/state.json")
//
// RedisStore: shared storage for multiple replicas. Keys are namespaced by RedisPrefix.
//
//	kv, err := storage.NewRedisStore(ctx, storage.Config{RedisURL: "redis://localhost:6379"})
//
// S3Store: one object per key under S3Prefix, for deployments without Redis.
//
// # Configuration
//
// New selects a backend from Config.Type ("memory", "file", "redis", "s3"). An empty type
// means "file".
//
// # Related Packages
//
//   - pkg/tenant: selected organization persistence on top of KV
//   - pkg/providers: credential persistence for hosted providers
package storage
