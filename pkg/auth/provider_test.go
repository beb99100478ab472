package auth

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProviderType(t *testing.T) {
	tests := []struct {
		in     string
		want   ProviderType
		wantOK bool
	}{
		{"", ProviderMock, true},
		{"mock", ProviderMock, true},
		{" Keycloak ", ProviderKeycloak, true},
		{"cognito", ProviderCognito, true},
		{"okta", ProviderMock, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseProviderType(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestProviderType_Label(t *testing.T) {
	assert.Equal(t, "Development Mode", ProviderMock.Label())
	assert.Equal(t, "AWS Cognito", ProviderCognito.Label())
	assert.Equal(t, "okta", ProviderType("okta").Label())
	assert.False(t, ProviderMock.Hosted())
	assert.True(t, ProviderAuth0.Hosted())
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require(ProviderOry, Param{"sdk url", "https://ory.example.com"}))

	err := Require(ProviderKeycloak,
		Param{"GATEHOUSE_KEYCLOAK_URL", ""},
		Param{"GATEHOUSE_KEYCLOAK_REALM", "admin"},
		Param{"GATEHOUSE_KEYCLOAK_CLIENT_ID", "  "},
	)
	assert.EqualError(t, err, "keycloak authentication requires GATEHOUSE_KEYCLOAK_URL, GATEHOUSE_KEYCLOAK_CLIENT_ID")
	assert.True(t, IsConfigError(err))
	assert.True(t, IsConfigError(fmt.Errorf("create provider: %w", err)))
	assert.False(t, IsConfigError(ErrUnavailable))
}
