package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ServiceType identifies the external integration a service config or a
// notification belongs to.
type ServiceType string

// Built-in service types. Custom integrations are encoded as "Custom:<tag>".
const (
	ServiceTypeEmail     ServiceType = "Email"
	ServiceTypeGithub    ServiceType = "Github"
	ServiceTypeGitlab    ServiceType = "Gitlab"
	ServiceTypeJira      ServiceType = "Jira"
	ServiceTypeGoogle    ServiceType = "Google"
	ServiceTypeMicrosoft ServiceType = "Microsoft"
	ServiceTypeLinkedIn  ServiceType = "LinkedIn"
)

const customServicePrefix = "Custom:"

// CustomServiceType returns the service type for a custom integration tag.
func CustomServiceType(tag string) ServiceType {
	return ServiceType(customServicePrefix + tag)
}

// IsCustom reports whether t is a custom integration.
func (t ServiceType) IsCustom() bool {
	return strings.HasPrefix(string(t), customServicePrefix)
}

// CustomTag returns the free-form tag of a custom service type.
func (t ServiceType) CustomTag() string {
	return strings.TrimPrefix(string(t), customServicePrefix)
}

// Valid reports whether t is a built-in type or a custom type with a
// non-empty tag.
func (t ServiceType) Valid() bool {
	switch t {
	case ServiceTypeEmail, ServiceTypeGithub, ServiceTypeGitlab, ServiceTypeJira,
		ServiceTypeGoogle, ServiceTypeMicrosoft, ServiceTypeLinkedIn:
		return true
	}
	return t.IsCustom() && strings.TrimSpace(t.CustomTag()) != ""
}

// AuthType names the kind of auth material a service config carries.
type AuthType string

const (
	AuthTypeOAuth2    AuthType = "OAuth2"
	AuthTypeBasicAuth AuthType = "BasicAuth"
	AuthTypeAPIKey    AuthType = "ApiKey"
	AuthTypeCustom    AuthType = "Custom"
)

// Valid reports whether a is a known auth type.
func (a AuthType) Valid() bool {
	switch a {
	case AuthTypeOAuth2, AuthTypeBasicAuth, AuthTypeAPIKey, AuthTypeCustom:
		return true
	}
	return false
}

// allowedAuth lists which auth types each built-in service accepts.
// Custom services accept any auth type.
var allowedAuth = map[ServiceType][]AuthType{
	ServiceTypeEmail:     {AuthTypeBasicAuth, AuthTypeOAuth2},
	ServiceTypeGithub:    {AuthTypeOAuth2, AuthTypeAPIKey},
	ServiceTypeGitlab:    {AuthTypeOAuth2, AuthTypeAPIKey},
	ServiceTypeJira:      {AuthTypeAPIKey, AuthTypeBasicAuth, AuthTypeOAuth2},
	ServiceTypeGoogle:    {AuthTypeOAuth2},
	ServiceTypeMicrosoft: {AuthTypeOAuth2},
	ServiceTypeLinkedIn:  {AuthTypeOAuth2},
}

// Supports reports whether service type t can authenticate with a.
func (t ServiceType) Supports(a AuthType) bool {
	if t.IsCustom() {
		return a.Valid()
	}
	for _, allowed := range allowedAuth[t] {
		if allowed == a {
			return true
		}
	}
	return false
}

// AuthMaterial is the credential payload of a service config. The concrete
// types are OAuth2Auth, BasicAuth, APIKeyAuth and CustomAuth.
type AuthMaterial interface {
	AuthType() AuthType
	isAuthMaterial()
}

// OAuth2Auth holds OAuth2 client settings and the current token pair.
type OAuth2Auth struct {
	ClientID       string     `json:"clientId" validate:"required"`
	ClientSecret   string     `json:"clientSecret,omitempty"`
	RedirectURI    string     `json:"redirectUri,omitempty" validate:"omitempty,url"`
	AuthURL        string     `json:"authUrl,omitempty" validate:"omitempty,url"`
	TokenURL       string     `json:"tokenUrl" validate:"required,url"`
	Scopes         []string   `json:"scopes,omitempty"`
	AccessToken    string     `json:"accessToken,omitempty"`
	RefreshToken   string     `json:"refreshToken,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
}

// BasicAuth holds a username and password.
type BasicAuth struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password,omitempty"`
}

// APIKeyAuth holds a static key and the header it is sent in.
type APIKeyAuth struct {
	Key        string `json:"key" validate:"required"`
	HeaderName string `json:"headerName,omitempty"`
}

// CustomAuth holds free-form credential fields.
type CustomAuth struct {
	Fields map[string]string `json:"fields"`
}

func (*OAuth2Auth) AuthType() AuthType { return AuthTypeOAuth2 }
func (*BasicAuth) AuthType() AuthType { return AuthTypeBasicAuth }
func (*APIKeyAuth) AuthType() AuthType { return AuthTypeAPIKey }
func (*CustomAuth) AuthType() AuthType { return AuthTypeCustom }

func (*OAuth2Auth) isAuthMaterial() {}
func (*BasicAuth) isAuthMaterial() {}
func (*APIKeyAuth) isAuthMaterial() {}
func (*CustomAuth) isAuthMaterial() {}

// RedactedSecret replaces every secret in redacted service configs.
const RedactedSecret = "********"

func redact(s string) string {
	if s == "" {
		return ""
	}
	return RedactedSecret
}

// CloneAuth returns a deep copy of a.
func CloneAuth(a AuthMaterial) AuthMaterial {
	switch v := a.(type) {
	case *OAuth2Auth:
		c := *v
		c.Scopes = append([]string(nil), v.Scopes...)
		if v.TokenExpiresAt != nil {
			exp := *v.TokenExpiresAt
			c.TokenExpiresAt = &exp
		}
		return &c
	case *BasicAuth:
		c := *v
		return &c
	case *APIKeyAuth:
		c := *v
		return &c
	case *CustomAuth:
		c := CustomAuth{Fields: make(map[string]string, len(v.Fields))}
		for k, val := range v.Fields {
			c.Fields[k] = val
		}
		return &c
	}
	return nil
}

// RedactAuth returns a copy of a with every secret replaced by a mask.
func RedactAuth(a AuthMaterial) AuthMaterial {
	c := CloneAuth(a)
	switch v := c.(type) {
	case *OAuth2Auth:
		v.ClientSecret = redact(v.ClientSecret)
		v.AccessToken = redact(v.AccessToken)
		v.RefreshToken = redact(v.RefreshToken)
	case *BasicAuth:
		v.Password = redact(v.Password)
	case *APIKeyAuth:
		v.Key = redact(v.Key)
	case *CustomAuth:
		for k, val := range v.Fields {
			v.Fields[k] = redact(val)
		}
	}
	return c
}

// MarshalAuth encodes the variant fields of a.
func MarshalAuth(a AuthMaterial) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("marshaling auth material: nil")
	}
	return json.Marshal(a)
}

// UnmarshalAuth decodes variant fields previously produced by MarshalAuth.
func UnmarshalAuth(t AuthType, data []byte) (AuthMaterial, error) {
	var a AuthMaterial
	switch t {
	case AuthTypeOAuth2:
		a = &OAuth2Auth{}
	case AuthTypeBasicAuth:
		a = &BasicAuth{}
	case AuthTypeAPIKey:
		a = &APIKeyAuth{}
	case AuthTypeCustom:
		a = &CustomAuth{}
	default:
		return nil, fmt.Errorf("unknown auth type %q", t)
	}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("decoding %s auth material: %w", t, err)
	}
	return a, nil
}

// Endpoints holds the base URL of a service and its named paths.
type Endpoints struct {
	BaseURL string            `json:"baseUrl" validate:"omitempty,url"`
	Paths   map[string]string `json:"paths,omitempty"`
}

// Path returns the named path, or fallback when it is not configured.
func (e Endpoints) Path(name, fallback string) string {
	if p, ok := e.Paths[name]; ok && p != "" {
		return p
	}
	return fallback
}

// ServiceConfig is a stored integration definition: which service, how to
// authenticate against it, and where it lives.
type ServiceConfig struct {
	// ID is the unique identifier for this service config.
	ID string

	// Name is the user-defined label.
	Name string

	// ServiceType identifies the integration.
	ServiceType ServiceType

	// Auth is the credential payload. Its AuthType always matches the
	// config's auth type.
	Auth AuthMaterial

	// Endpoints locate the remote service.
	Endpoints Endpoints

	// Enabled controls whether the service is synced and usable for AI keys.
	Enabled bool

	// NeedsReauth is set when a token refresh failed and cleared by a
	// successful refresh or an auth update carrying new tokens.
	NeedsReauth bool

	// Metadata holds free-form settings (e.g. a Jira JQL or a mailbox name).
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time

	// LastSync is when a connectivity test or sync run last succeeded.
	LastSync *time.Time

	// LastFetch is the start of the last completed sync run and the
	// cursor of the next one. Connectivity tests leave it alone.
	LastFetch *time.Time
}

// AuthType returns the auth type of the stored material.
func (c ServiceConfig) AuthType() AuthType {
	if c.Auth == nil {
		return ""
	}
	return c.Auth.AuthType()
}

// Clone returns a deep copy of c.
func (c ServiceConfig) Clone() ServiceConfig {
	out := c
	if c.Auth != nil {
		out.Auth = CloneAuth(c.Auth)
	}
	if c.Endpoints.Paths != nil {
		out.Endpoints.Paths = make(map[string]string, len(c.Endpoints.Paths))
		for k, v := range c.Endpoints.Paths {
			out.Endpoints.Paths[k] = v
		}
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.LastSync != nil {
		ls := *c.LastSync
		out.LastSync = &ls
	}
	if c.LastFetch != nil {
		lf := *c.LastFetch
		out.LastFetch = &lf
	}
	return out
}

// Redacted returns a copy of c safe to hand to presentation layers.
func (c ServiceConfig) Redacted() ServiceConfig {
	out := c.Clone()
	if out.Auth != nil {
		out.Auth = RedactAuth(out.Auth)
	}
	return out
}

type serviceConfigJSON struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ServiceType ServiceType       `json:"serviceType"`
	AuthType    AuthType          `json:"authType"`
	AuthConfig  json.RawMessage   `json:"authConfig"`
	Endpoints   Endpoints         `json:"endpoints"`
	Enabled     bool              `json:"enabled"`
	NeedsReauth bool              `json:"needsReauth"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	LastSync    *time.Time        `json:"lastSync,omitempty"`
	LastFetch   *time.Time        `json:"lastFetch,omitempty"`
}

// MarshalJSON encodes the config with its auth material under "authConfig".
func (c ServiceConfig) MarshalJSON() ([]byte, error) {
	out := serviceConfigJSON{
		ID:          c.ID,
		Name:        c.Name,
		ServiceType: c.ServiceType,
		AuthType:    c.AuthType(),
		Endpoints:   c.Endpoints,
		Enabled:     c.Enabled,
		NeedsReauth: c.NeedsReauth,
		Metadata:    c.Metadata,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		LastSync:    c.LastSync,
		LastFetch:   c.LastFetch,
	}
	if c.Auth != nil {
		raw, err := MarshalAuth(c.Auth)
		if err != nil {
			return nil, err
		}
		out.AuthConfig = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the "authConfig" object according to "authType".
func (c *ServiceConfig) UnmarshalJSON(data []byte) error {
	var in serviceConfigJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = ServiceConfig{
		ID:          in.ID,
		Name:        in.Name,
		ServiceType: in.ServiceType,
		Endpoints:   in.Endpoints,
		Enabled:     in.Enabled,
		NeedsReauth: in.NeedsReauth,
		Metadata:    in.Metadata,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
		LastSync:    in.LastSync,
		LastFetch:   in.LastFetch,
	}
	if len(in.AuthConfig) > 0 && string(in.AuthConfig) != "null" {
		auth, err := UnmarshalAuth(in.AuthType, in.AuthConfig)
		if err != nil {
			return err
		}
		c.Auth = auth
	}
	return nil
}
