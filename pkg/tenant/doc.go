// Package tenant persists the selected organization and publishes selection changes.
//
// The selection is a UUID v4 stored under StorageKey. It is read from storage every time
// and validated on each read; anything else is deleted and reported as cleared. Admin API
// requests carry it in the HeaderName header.
//
//	sel := tenant.New(kv, tenant.WithLogger(logger.Entry()))
//	unsubscribe := sel.Subscribe(func(e tenant.Event) {
//		if e.Type == tenant.EventCleared && e.Reason == tenant.ReasonAccessDenied {
//			// tell the user their organization was deselected
//		}
//	})
//	defer unsubscribe()
package tenant
