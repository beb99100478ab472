// Package orgselect implements the organization selection step that follows login.
//
// After a successful login without a stored organization the server shows the Overlay:
//
//   - the list fails to load: an error view the user can retry
//   - no organizations: onboarding
//   - exactly one: it is selected automatically, once
//   - several: a picker; dismissing it signs the user out
package orgselect
