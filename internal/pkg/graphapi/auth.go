package graphapi

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// BearerTokenAuthenticator decorates requests with the access token from the tap settings.
// The token is read once, at stream construction. No refresh is done; an expired token
// surfaces as an APIError wrapping ErrAccessTokenExpired.
type BearerTokenAuthenticator struct {
	source oauth2.TokenSource
}

func NewBearerTokenAuthenticator(accessToken string) *BearerTokenAuthenticator {
	return &BearerTokenAuthenticator{
		source: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		}),
	}
}

func (a *BearerTokenAuthenticator) Authenticate(req *http.Request) error {
	token, err := a.source.Token()
	if err != nil {
		return fmt.Errorf("could not get access token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}
