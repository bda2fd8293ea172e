package source

import (
	"fmt"
	"net/http"

	"github.com/nhle/notifyhub/internal/model"
)

// Authorizer decorates an outgoing request with credentials.
type Authorizer func(req *http.Request)

// HeaderAuthorizer builds the request decoration for auth material:
// API keys go in their configured header (Authorization as a Bearer token
// by default), OAuth2 access tokens as Bearer tokens, and basic auth as
// HTTP basic credentials.
func HeaderAuthorizer(t model.ServiceType, auth model.AuthMaterial) (Authorizer, error) {
	switch a := auth.(type) {
	case *model.APIKeyAuth:
		header := a.HeaderName
		if header == "" || http.CanonicalHeaderKey(header) == "Authorization" {
			return func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+a.Key)
			}, nil
		}
		return func(req *http.Request) {
			req.Header.Set(header, a.Key)
		}, nil
	case *model.OAuth2Auth:
		if a.AccessToken == "" {
			return nil, &AuthError{ServiceType: t, Message: "no access token; re-authorization required"}
		}
		return func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+a.AccessToken)
		}, nil
	case *model.BasicAuth:
		return func(req *http.Request) {
			req.SetBasicAuth(a.Username, a.Password)
		}, nil
	}
	return nil, fmt.Errorf("%s does not support %s auth", t, auth.AuthType())
}
