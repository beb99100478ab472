package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Default pagination used by the admin API.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
)

// Organization is a tenant in the admin API.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page is one page of a paginated list.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Pages int `json:"pages"`
}

// OrganizationLister lists the organizations the signed-in user belongs to.
type OrganizationLister interface {
	ListOrganizations(ctx context.Context, page, size int) (*Page[Organization], error)
}

// ListOrganizations fetches one page of organizations.
func (c *Client) ListOrganizations(ctx context.Context, page, size int) (*Page[Organization], error) {
	if page <= 0 {
		page = DefaultPage
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var out Page[Organization]
	if err := c.Do(ctx, http.MethodGet, "/organizations?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrganization fetches a single organization.
func (c *Client) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	var out Organization
	if err := c.Do(ctx, http.MethodGet, "/organizations/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAllOrganizations walks every page of l.
func ListAllOrganizations(ctx context.Context, l OrganizationLister, size int) ([]Organization, error) {
	var all []Organization
	for page := 1; ; page++ {
		p, err := l.ListOrganizations(ctx, page, size)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if len(p.Items) == 0 || page >= p.Pages {
			return all, nil
		}
		if page > 1000 {
			return nil, fmt.Errorf("organization list did not terminate after %d pages", page)
		}
	}
}
