//go:build !gatehouse_no_cognito

package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

func init() {
	Register(auth.ProviderCognito, func(ctx context.Context, deps Deps) (auth.Provider, error) {
		return NewCognito(ctx, deps)
	})
}

// cognitoAPI is the part of the Cognito user pool API the provider calls.
type cognitoAPI interface {
	GetUser(ctx context.Context, in *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
	GlobalSignOut(ctx context.Context, in *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
}

// Cognito checks sessions against a Cognito user pool and signs users in through the
// hosted UI. Tokens come from the hosted UI code exchange on the callback route.
type Cognito struct {
	*hosted
	api       cognitoAPI
	sess      *oidcSession
	domain    string
	clientID  string
	publicURL string
}

// NewCognito creates the Cognito provider. Region, user pool ID and client ID are required;
// the hosted UI domain is needed only for login and manual logout.
func NewCognito(ctx context.Context, deps Deps) (*Cognito, error) {
	deps = deps.withDefaults()
	cfg := deps.Config.Auth.Cognito
	if err := auth.Require(auth.ProviderCognito,
		auth.Param{Name: "GATEHOUSE_COGNITO_REGION", Value: cfg.Region},
		auth.Param{Name: "GATEHOUSE_COGNITO_USER_POOL_ID", Value: cfg.UserPoolID},
		auth.Param{Name: "GATEHOUSE_COGNITO_CLIENT_ID", Value: cfg.ClientID},
	); err != nil {
		return nil, err
	}

	// GetUser and GlobalSignOut are authorized by the user's access token, not by IAM
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
		awsconfig.WithHTTPClient(deps.HTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS config: %v", auth.ErrUnavailable, err)
	}
	api := cip.NewFromConfig(awsConfig, func(o *cip.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com", cfg.Region)
	}

	h := newHosted(auth.ProviderCognito, deps)
	c := &Cognito{
		hosted:    h,
		api:       api,
		clientID:  cfg.ClientID,
		publicURL: deps.Config.Server.PublicURL,
		sess: &oidcSession{
			provider:     auth.ProviderCognito,
			issuer:       strings.TrimRight(endpoint, "/") + "/" + cfg.UserPoolID,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			redirectURL:  deps.Config.CallbackURL(),
			toUser:       cognitoClaimsUser,
			kv:           deps.KV,
			client:       deps.HTTPClient,
			logger:       h.logger,
		},
	}
	if cfg.Domain != "" {
		c.domain = hostURL(cfg.Domain)
	}
	return c, nil
}

func cognitoClaimsUser(c idClaims) *session.User {
	return &session.User{
		ID:    c.Subject,
		Email: c.Email,
		Name:  displayName(c.Email, c.Name, c.CognitoUsername),
	}
}

// Init checks the stored session once.
func (c *Cognito) Init(ctx context.Context) {
	c.once.Do(func() {
		c.runCheck(ctx, c.currentUser)
	})
}

// currentUser resolves the stored access token with GetUser. An expired token is refreshed
// once before giving up.
func (c *Cognito) currentUser(ctx context.Context) (*session.User, error) {
	rec, err := loadToken(ctx, c.sess.kv, c.typ)
	if err != nil || rec == nil {
		return nil, err
	}

	user, err := c.getUser(ctx, rec.Token.AccessToken)
	if !isNotAuthorized(err) {
		return user, err
	}
	if rec.Token.RefreshToken == "" {
		return nil, c.sess.forget(ctx)
	}

	rec, err = c.sess.refresh(ctx, rec)
	if errors.Is(err, errSessionExpired) {
		return nil, c.sess.forget(ctx)
	}
	if err != nil {
		return nil, err
	}
	user, err = c.getUser(ctx, rec.Token.AccessToken)
	if isNotAuthorized(err) {
		return nil, c.sess.forget(ctx)
	}
	return user, err
}

func (c *Cognito) getUser(ctx context.Context, accessToken string) (*session.User, error) {
	out, err := c.api.GetUser(ctx, &cip.GetUserInput{AccessToken: aws.String(accessToken)})
	if err != nil {
		if isNotAuthorized(err) {
			return nil, err
		}
		return nil, fmt.Errorf("cognito session check failed: %w", err)
	}

	attrs := make(map[string]string, len(out.UserAttributes))
	for _, a := range out.UserAttributes {
		attrs[aws.ToString(a.Name)] = aws.ToString(a.Value)
	}
	username := aws.ToString(out.Username)
	id := attrs["sub"]
	if id == "" {
		id = username
	}
	return &session.User{
		ID:    id,
		Email: attrs["email"],
		Name:  displayName(attrs["email"], attrs["name"], username),
	}, nil
}

// isNotAuthorized reports whether err means there is no valid session rather than a fault.
func isNotAuthorized(err error) bool {
	var notAuthorized *types.NotAuthorizedException
	var notFound *types.UserNotFoundException
	return errors.As(err, &notAuthorized) || errors.As(err, &notFound)
}

// Login redirects to the hosted UI. Without a configured domain there is nowhere to send the
// browser and the error ends up in the session state.
func (c *Cognito) Login(ctx context.Context, _ auth.LoginOptions) (auth.Effect, error) {
	if c.domain == "" {
		return auth.Effect{}, errors.New("cognito domain not configured for hosted UI login")
	}
	state, err := c.sess.newState(ctx)
	if err != nil {
		return auth.Effect{}, err
	}
	return auth.Navigate(c.sess.manualAuthorizeURL(c.domain+"/oauth2/authorize", state)), nil
}

// Logout revokes every token with GlobalSignOut. When that fails the browser is sent to the
// hosted UI logout endpoint instead. The local session is cleared either way.
func (c *Cognito) Logout(ctx context.Context) (auth.Effect, error) {
	defer func() {
		if err := c.sess.forget(ctx); err != nil {
			c.logger.WithError(err).Warn("Failed to delete stored tokens")
		}
		c.store.SetUser(nil)
	}()

	rec, err := loadToken(ctx, c.sess.kv, c.typ)
	if err == nil && rec != nil {
		_, err = c.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{AccessToken: aws.String(rec.Token.AccessToken)})
		if err == nil {
			return auth.Effect{}, nil
		}
		c.logger.WithError(err).Warn("GlobalSignOut failed, using hosted UI logout")
	}

	if c.domain == "" {
		return auth.Effect{}, nil
	}
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("logout_uri", c.publicURL)
	return auth.Navigate(c.domain + "/logout?" + q.Encode()), nil
}

// Complete exchanges the hosted UI code and resolves the user through GetUser.
func (c *Cognito) Complete(ctx context.Context, r *http.Request) error {
	if _, err := c.sess.exchange(ctx, r); err != nil {
		return err
	}
	if c.runCheck(ctx, c.currentUser) == nil {
		if msg := c.store.Snapshot().Error; msg != "" {
			return errors.New(msg)
		}
		return errors.New("cognito rejected the new session")
	}
	return nil
}

var _ auth.Completer = (*Cognito)(nil)
