// Package identity implements the hosted-login flow: an OAuth2
// authorization-code exchange against a Cognito user pool, followed by an
// identity-pool exchange for short-lived storage credentials.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/amarcin/village-units/internal/adapters/observability"
)

var (
	ErrUnauthenticated = errors.New("identity: not authenticated")
	ErrNoIDToken       = errors.New("identity: token response has no id_token")
)

type Config struct {
	Domain         string
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	Region         string
	UserPoolID     string
	IdentityPoolID string
}

// IdentityAPI is the subset of the Cognito identity-pool client we call.
type IdentityAPI interface {
	GetId(ctx context.Context, in *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, in *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

type Provider struct {
	cfg   Config
	oauth *oauth2.Config
	http  *http.Client
	ident IdentityAPI
}

// New builds a provider. ident may be nil when no identity pool is
// configured; sessions then carry no storage credentials.
func New(cfg Config, ident IdentityAPI, hc *http.Client) *Provider {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	domain := strings.TrimRight(cfg.Domain, "/")
	return &Provider{
		cfg:  cfg,
		http: hc,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"email", "openid"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   domain + "/login",
				TokenURL:  domain + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		ident: ident,
	}
}

// LoginURL is the hosted login page that redirects back with ?code=.
func (p *Provider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// LogoutURL ends the hosted-UI session and returns to the app.
func (p *Provider) LogoutURL() string {
	q := url.Values{"client_id": {p.cfg.ClientID}, "logout_uri": {p.cfg.RedirectURL}}
	return strings.TrimRight(p.cfg.Domain, "/") + "/logout?" + q.Encode()
}

// Tokens are the parts of the token response the app keeps.
type Tokens struct {
	AccessToken string
	IDToken     string
	Expiry      time.Time
}

func (p *Provider) Exchange(ctx context.Context, code string) (Tokens, error) {
	start := time.Now()
	tok, err := p.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, p.http), code)
	status := http.StatusOK
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status = re.Response.StatusCode
	} else if err != nil {
		status = 0
	}
	observability.ObserveExternal("cognito", "token", status, time.Since(start))
	if err != nil {
		return Tokens{}, fmt.Errorf("identity: exchange code: %w", err)
	}
	id, _ := tok.Extra("id_token").(string)
	if id == "" {
		return Tokens{}, ErrNoIDToken
	}
	return Tokens{AccessToken: tok.AccessToken, IDToken: id, Expiry: tok.Expiry}, nil
}

// UserInfo calls the user-info endpoint with the access token.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	endpoint := strings.TrimRight(p.cfg.Domain, "/") + "/oauth2/userInfo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)

	start := time.Now()
	res, err := p.http.Do(req)
	if err != nil {
		observability.ObserveExternal("cognito", "userinfo", 0, time.Since(start))
		return nil, fmt.Errorf("identity: userinfo: %w", err)
	}
	defer res.Body.Close()
	observability.ObserveExternal("cognito", "userinfo", res.StatusCode, time.Since(start))
	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("identity: userinfo status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	var info map[string]any
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("identity: decode userinfo: %w", err)
	}
	return info, nil
}

// Groups reads cognito:groups from an id token without verifying its
// signature. Only pass tokens received from the token endpoint.
func Groups(idToken string) ([]string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("identity: parse id token: %w", err)
	}
	raw, _ := claims["cognito:groups"].([]any)
	out := make([]string, 0, len(raw))
	for _, g := range raw {
		if s, ok := g.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *Provider) logins(idToken string) map[string]string {
	return map[string]string{
		fmt.Sprintf("cognito-idp.%s.amazonaws.com/%s", p.cfg.Region, p.cfg.UserPoolID): idToken,
	}
}

// Credentials trades an id token for identity-pool AWS credentials.
func (p *Provider) Credentials(ctx context.Context, idToken string) (aws.Credentials, error) {
	if p.ident == nil {
		return aws.Credentials{}, errors.New("identity: no identity pool configured")
	}
	start := time.Now()
	id, err := p.ident.GetId(ctx, &cognitoidentity.GetIdInput{
		IdentityPoolId: aws.String(p.cfg.IdentityPoolID),
		Logins:         p.logins(idToken),
	})
	if err != nil {
		observability.ObserveExternal("cognito-identity", "get_id", 0, time.Since(start))
		return aws.Credentials{}, fmt.Errorf("identity: get id: %w", err)
	}
	out, err := p.ident.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: id.IdentityId,
		Logins:     p.logins(idToken),
	})
	if err != nil {
		observability.ObserveExternal("cognito-identity", "credentials", 0, time.Since(start))
		return aws.Credentials{}, fmt.Errorf("identity: get credentials: %w", err)
	}
	observability.ObserveExternal("cognito-identity", "credentials", http.StatusOK, time.Since(start))
	c := out.Credentials
	if c == nil {
		return aws.Credentials{}, errors.New("identity: empty credentials")
	}
	return aws.Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Source:          "CognitoIdentity",
		CanExpire:       c.Expiration != nil,
		Expires:         aws.ToTime(c.Expiration),
	}, nil
}

// Authenticate runs the whole callback: code exchange, user info, groups
// and, when an identity pool is configured, storage credentials.
func (p *Provider) Authenticate(ctx context.Context, code string) (Session, error) {
	if strings.TrimSpace(code) == "" {
		return Session{}, ErrUnauthenticated
	}
	tok, err := p.Exchange(ctx, code)
	if err != nil {
		return Session{}, err
	}
	info, err := p.UserInfo(ctx, tok.AccessToken)
	if err != nil {
		return Session{}, err
	}
	groups, err := Groups(tok.IDToken)
	if err != nil {
		return Session{}, err
	}

	s := Session{User: info, Groups: groups, Expires: tok.Expiry}
	if email, ok := info["email"].(string); ok {
		s.Email = email
	}
	if p.ident != nil {
		creds, err := p.Credentials(ctx, tok.IDToken)
		if err != nil {
			return Session{}, err
		}
		s.Credentials = &creds
		if creds.CanExpire {
			s.Expires = creds.Expires
		}
	}
	if s.Expires.IsZero() {
		s.Expires = time.Now().Add(time.Hour)
	}
	log.Info().Str("email", s.Email).Strs("groups", s.Groups).Msg("login succeeded")
	return s, nil
}
