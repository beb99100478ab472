// Package apiclient is the client for the admin REST API that gatehouse fronts.
//
// Every request carries the selected organization in the X-Selected-Org header when a
// valid one is stored. A 403 that rejects that organization, identified by the
// organization_access_denied code or a message mentioning the organization, clears the
// selection once for that response; the user stays signed in.
//
//	client := apiclient.New(cfg.API, selection, apiclient.WithMetrics(metrics))
//	orgs := apiclient.NewCachedOrganizations(client, cfg.API.OrganizationCacheTTL, metrics)
//	page, err := orgs.ListOrganizations(ctx, 1, 10)
package apiclient
