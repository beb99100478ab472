package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/apiclient"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgselect"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// Error codes written by the organization endpoints.
const (
	CodeUnknownOrganization = "unknown_organization"
	CodeUpstreamFailure     = "upstream_failure"
)

// SelectResponse is an overlay view plus where the client goes next.
type SelectResponse struct {
	orgselect.View
	Next     string `json:"next,omitempty"`
	Navigate string `json:"navigate,omitempty"`
}

type selectRequest struct {
	OrganizationID string `json:"organization_id"`
}

// MeResponse is the body of GET /app/me.
type MeResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"`
}

// selectView handles GET /orgs/select
func (s *Server) selectView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from := orDefault(localPath(r.URL.Query().Get("from")))

	id, err := s.selection.Get(ctx)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to read selected organization")
	}
	if id != "" {
		_ = httputil.WriteJSON(w, http.StatusOK, SelectResponse{
			View: orgselect.View{Kind: orgselect.ViewDone, Selected: id},
			Next: from,
		})
		return
	}

	view := s.overlay.Load(ctx)
	_ = httputil.WriteJSON(w, http.StatusOK, s.selectResponse(view, from))
}

// selectOrganization handles POST /orgs/select
func (s *Server) selectOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from := orDefault(localPath(r.URL.Query().Get("from")))

	var req selectRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.OrganizationID == "" {
		httputil.WriteBadRequest(w, "organization_id is required")
		return
	}

	view, err := s.overlay.Select(ctx, req.OrganizationID)
	if err != nil {
		s.writeSelectError(w, r, err)
		return
	}

	observability.FromContext(ctx).WithField("organization_id", view.Selected).Info("Organization selected")
	_ = httputil.WriteJSON(w, http.StatusOK, SelectResponse{View: view, Next: from})
}

// retrySelect handles POST /orgs/select/retry
func (s *Server) retrySelect(w http.ResponseWriter, r *http.Request) {
	from := orDefault(localPath(r.URL.Query().Get("from")))
	view := s.overlay.Retry(r.Context())
	_ = httputil.WriteJSON(w, http.StatusOK, s.selectResponse(view, from))
}

// dismissSelect handles POST /orgs/select/dismiss
func (s *Server) dismissSelect(w http.ResponseWriter, r *http.Request) {
	var effect auth.Effect
	ctx := context.WithValue(r.Context(), contextkeys.LogoutEffectKey, &effect)

	view, err := s.overlay.Dismiss(ctx)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Logout from organization picker reported an error")
	}
	resp := SelectResponse{View: view, Navigate: effect.Navigate}
	if effect.None() {
		resp.Next = LoginPath
	}
	_ = httputil.WriteJSON(w, http.StatusOK, resp)
}

// me handles GET /app/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u := s.facade.State().User
	if u == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "not signed in")
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, MeResponse{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		OrganizationID: contextkeys.OrganizationID(r.Context()),
	})
}

// listOrganizations handles GET /app/organizations
func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParseQueryInt(r, "page", apiclient.DefaultPage)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	size, err := httputil.ParseQueryInt(r, "size", apiclient.DefaultPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := s.orgs.ListOrganizations(r.Context(), page, size)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, result)
}

// currentOrganization handles GET /app/organizations/current
func (s *Server) currentOrganization(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "organization lookup is not configured")
		return
	}
	org, err := s.fetcher.GetOrganization(r.Context(), contextkeys.OrganizationID(r.Context()))
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, org)
}

// switchOrganization handles POST /app/organizations/current
func (s *Server) switchOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req selectRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.OrganizationID == "" {
		httputil.WriteBadRequest(w, "organization_id is required")
		return
	}

	view, err := s.overlay.Select(ctx, req.OrganizationID)
	if err != nil {
		s.writeSelectError(w, r, err)
		return
	}
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"from_organization_id": contextkeys.OrganizationID(ctx),
		"organization_id":      view.Selected,
	}).Info("Organization switched")

	s.currentOrganization(w, r.WithContext(contextkeys.WithOrganizationID(ctx, view.Selected)))
}

func (s *Server) writeSelectError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, orgselect.ErrUnknownOrganization), errors.Is(err, tenant.ErrInvalidOrganizationID):
		httputil.WriteErrorCode(w, http.StatusBadRequest, CodeUnknownOrganization, err.Error())
	case errors.As(err, &apiErr):
		s.writeUpstreamError(w, r, err)
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Failed to select organization")
		httputil.WriteInternalError(w, err)
	}
}

func (s *Server) selectResponse(view orgselect.View, from string) SelectResponse {
	resp := SelectResponse{View: view}
	if view.Kind == orgselect.ViewSelecting || view.Kind == orgselect.ViewDone {
		resp.Next = from
	}
	return resp
}

// writeUpstreamError passes admin API client errors through and reports everything else
// as a bad gateway. A rejected organization has already been cleared by the client.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		code := apiErr.Code
		if apiErr.OrganizationDenied() {
			code = apiclient.CodeOrganizationAccessDenied
		}
		httputil.WriteDetail(w, apiErr.Status, apiErr.Error(), code)
		return
	}
	observability.FromContext(r.Context()).WithError(err).Error("Admin API request failed")
	httputil.WriteErrorCode(w, http.StatusBadGateway, CodeUpstreamFailure, err.Error())
}
