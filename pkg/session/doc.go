// Package session holds the authoritative authentication state of one provider instance.
//
// # Overview
//
// A Store keeps a single State value ({User, IsLoading, Error}) and notifies subscribers
// synchronously whenever it is replaced. It has no knowledge of HTTP or of any identity
// vendor; providers write to it and the auth facade reads from it.
//
// # Usage Example
//
//	store := session.NewStore(session.LoadingState())
//	unsubscribe := store.Subscribe(func(s session.State) {
//		log.Printf("authenticated=%v", s.IsAuthenticated())
//	})
//	defer unsubscribe()
//
//	store.SetUser(&session.User{ID: "42", Email: "ada@example.com", Name: "Ada"})
//
// # Related Packages
//
//   - pkg/auth: Facade that exposes the store to the rest of the service
//   - pkg/providers: Provider implementations that mutate the store
package session
