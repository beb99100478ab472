// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, state)
//	httputil.WriteErrorCode(w, http.StatusForbidden, "organization_access_denied", msg)
//	httputil.WriteDetail(w, http.StatusUnprocessableEntity, "Invalid email address", "")
//
// Gatehouse endpoints answer errors as {"error", "code"}; the mock admin API answers in the
// admin API's {"detail", "code"} shape.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//	)(router)
//
// RequestIDMiddleware must run before LoggingMiddleware so log lines carry request_id.
package httputil
