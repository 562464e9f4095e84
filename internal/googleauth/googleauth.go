// Package googleauth handles the Google OAuth redirect/callback pair and
// maps the provider profile into the shape the sign-in flow consumes.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/lumensocial/identity/internal/auth"
)

const userinfoEndpoint = "https://www.googleapis.com/oauth2/v2/userinfo"

// ErrExchangeFailed covers a rejected authorization code or an unreachable
// provider.
var ErrExchangeFailed = errors.New("google code exchange failed")

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Client wraps the oauth2 configuration for the sign-in flow.
type Client struct {
	oauth *oauth2.Config
}

// NewClient creates a Client with the profile and email scopes.
func NewClient(cfg Config) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

// Enabled reports whether a client registration is configured.
func (c *Client) Enabled() bool {
	return c.oauth.ClientID != ""
}

// AuthURL builds the provider redirect carrying the anti-forgery state.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// FetchProfile exchanges the callback code and loads the provider profile.
func (c *Client) FetchProfile(ctx context.Context, code string) (auth.GoogleProfile, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return auth.GoogleProfile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	resp, err := c.oauth.Client(ctx, tok).Get(userinfoEndpoint)
	if err != nil {
		return auth.GoogleProfile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return auth.GoogleProfile{}, fmt.Errorf("%w: userinfo status %d", ErrExchangeFailed, resp.StatusCode)
	}

	var info struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return auth.GoogleProfile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if info.ID == "" || info.Email == "" {
		return auth.GoogleProfile{}, fmt.Errorf("%w: incomplete profile", ErrExchangeFailed)
	}

	return auth.GoogleProfile{
		GoogleID: info.ID,
		Email:    info.Email,
		Name:     info.GivenName,
		Surname:  info.FamilyName,
	}, nil
}
