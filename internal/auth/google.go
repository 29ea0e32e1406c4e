package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/helpdeskhq/ticket-triage/internal/config"
	"github.com/helpdeskhq/ticket-triage/internal/domain"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// IdentityProvider turns an authorization code into a verified identity.
type IdentityProvider interface {
	Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleProvider runs the server side of Google's authorization code flow.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider builds a provider. Single page apps using the popup flow pass
// "postmessage" as the redirect URL.
func NewGoogleProvider(cfg config.GoogleConfig) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// Exchange trades code for a token and loads the account profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging google code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: google userinfo returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("auth: decoding google userinfo: %w", err)
	}
	if info.Sub == "" || info.Email == "" {
		return nil, fmt.Errorf("auth: google returned an incomplete profile")
	}
	if !info.EmailVerified {
		return nil, fmt.Errorf("auth: google email %s is not verified", info.Email)
	}

	return &domain.ExternalIdentity{
		Subject:    info.Sub,
		Email:      domain.NormalizeEmail(info.Email),
		FullName:   info.Name,
		ProfilePic: info.Picture,
	}, nil
}
