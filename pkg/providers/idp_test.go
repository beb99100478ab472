package providers

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

const (
	testClientID = "admin-dashboard"
	testKeyID    = "test-key"
	testCode     = "auth-code-123"
)

// fakeIdP is a minimal OpenID provider: discovery, JWKS, token endpoint and logout.
type fakeIdP struct {
	t      *testing.T
	srv    *httptest.Server
	issuer string
	key    *rsa.PrivateKey

	mu           sync.Mutex
	claims       jwt.MapClaims
	accessTTL    time.Duration
	failRefresh  bool
	refreshes    int
	noEndSession bool
}

// newFakeIdP serves an issuer at srv.URL+issuerPath. Requests outside the issuer go to
// fallback when it is set.
func newFakeIdP(t *testing.T, issuerPath string, fallback http.Handler) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &fakeIdP{
		t:         t,
		key:       key,
		accessTTL: time.Hour,
		claims: jwt.MapClaims{
			"sub":   "user-42",
			"email": "ada@example.com",
			"name":  "Ada Lovelace",
		},
	}

	mux := http.NewServeMux()
	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	idp.issuer = idp.srv.URL + issuerPath

	base := strings.TrimRight(issuerPath, "/")
	mux.HandleFunc(base+"/.well-known/openid-configuration", idp.discovery)
	mux.HandleFunc(base+"/jwks", idp.jwks)
	mux.HandleFunc(base+"/token", idp.token)
	if fallback != nil {
		mux.Handle("/", fallback)
	}
	return idp
}

func (idp *fakeIdP) base() string {
	return strings.TrimRight(idp.issuer, "/")
}

func (idp *fakeIdP) setClaims(c jwt.MapClaims) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.claims = c
}

func (idp *fakeIdP) refreshCount() int {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return idp.refreshes
}

func (idp *fakeIdP) discovery(w http.ResponseWriter, _ *http.Request) {
	idp.mu.Lock()
	noEnd := idp.noEndSession
	idp.mu.Unlock()

	doc := map[string]interface{}{
		"issuer":                                idp.issuer,
		"authorization_endpoint":                idp.base() + "/authorize",
		"token_endpoint":                        idp.base() + "/token",
		"jwks_uri":                              idp.base() + "/jwks",
		"userinfo_endpoint":                     idp.base() + "/userinfo",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	if !noEnd {
		doc["end_session_endpoint"] = idp.base() + "/logout"
	}
	writeTestJSON(w, http.StatusOK, doc)
}

func (idp *fakeIdP) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := idp.key.PublicKey
	writeTestJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (idp *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	idp.mu.Lock()
	defer idp.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != testCode {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	case "refresh_token":
		if idp.failRefresh {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		idp.refreshes++
	default:
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	writeTestJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  idp.signLocked(idp.accessClaimsLocked(idp.accessTTL)),
		"token_type":    "Bearer",
		"expires_in":    int(idp.accessTTL.Seconds()),
		"refresh_token": "refresh-token",
		"id_token":      idp.signLocked(idp.idClaimsLocked()),
	})
}

func (idp *fakeIdP) idClaimsLocked() jwt.MapClaims {
	c := jwt.MapClaims{
		"iss": idp.issuer,
		"aud": testClientID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range idp.claims {
		c[k] = v
	}
	return c
}

func (idp *fakeIdP) accessClaimsLocked(ttl time.Duration) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": idp.issuer,
		"sub": idp.claims["sub"],
		"exp": time.Now().Add(ttl).Unix(),
	}
}

func (idp *fakeIdP) signLocked(claims jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(idp.key)
	require.NoError(idp.t, err)
	return signed
}

// storedToken builds a token record as if a login had completed, with the access token
// expiring after ttl.
func (idp *fakeIdP) storedToken(ttl time.Duration, refresh string) *tokenRecord {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return &tokenRecord{
		Token: &oauth2.Token{
			AccessToken:  idp.signLocked(idp.accessClaimsLocked(ttl)),
			TokenType:    "Bearer",
			RefreshToken: refresh,
			Expiry:       time.Now().Add(ttl),
		},
		IDToken: idp.signLocked(idp.idClaimsLocked()),
	}
}

func writeTestJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// callbackRequest builds the browser's return to the callback route using the state the
// provider stored during login.
func callbackRequest(t *testing.T, kv storage.KV, code string) *http.Request {
	t.Helper()
	state, err := kv.Get(context.Background(), OAuthStateKey)
	require.NoError(t, err)
	q := url.Values{"code": {code}, "state": {state}}
	return httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), nil)
}

func testDeps(cfg *config.Config) Deps {
	return Deps{Config: cfg, KV: storage.NewMemoryStore()}
}

func requireNavigate(t *testing.T, effect auth.Effect) *url.URL {
	t.Helper()
	require.NotEmpty(t, effect.Navigate)
	u, err := url.Parse(effect.Navigate)
	require.NoError(t, err)
	return u
}
