package oauth

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
)

// Response is handed to the HTTP layer for serialization.
type Response interface {
	Status() int
	Headers() http.Header
	Body() map[string]interface{}
}

func noStoreHeaders() http.Header {
	h := make(http.Header)
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Content-Type", "application/json; charset=utf-8")
	return h
}

// NewErrorResponse create to error response instance
func NewErrorResponse(err error, realm string) *ErrorResponse {
	return &ErrorResponse{Err: err, Realm: realm}
}

// ErrorResponse a protocol error. Err may be a variant; it is reported on
// the wire as the error it wraps.
type ErrorResponse struct {
	Err   error
	State string
	Realm string

	// RedirectURI is the validated redirect target of an authorization
	// request. Empty means the error is rendered, never redirected.
	RedirectURI string
	NativeURI   string
	Fragment    bool

	description string
}

func (r *ErrorResponse) Error() string { return r.Err.Error() }

// Unwrap returns the underlying error.
func (r *ErrorResponse) Unwrap() error { return r.Err }

// Name the wire name of the error.
func (r *ErrorResponse) Name() string { return errors.WireError(r.Err).Error() }

// Description human readable description of the error.
func (r *ErrorResponse) Description() string {
	if r.description != "" {
		return r.description
	}
	return errors.Description(r.Err)
}

// Status implements Response.
func (r *ErrorResponse) Status() int {
	if code, ok := errors.StatusCodes[errors.WireError(r.Err)]; ok {
		return code
	}
	return http.StatusUnauthorized
}

// Body implements Response.
func (r *ErrorResponse) Body() map[string]interface{} {
	data := map[string]interface{}{"error": r.Name()}
	if v := r.Description(); v != "" {
		data["error_description"] = v
	}
	if v := r.State; v != "" {
		data["state"] = v
	}
	return data
}

// Headers implements Response.
func (r *ErrorResponse) Headers() http.Header {
	h := noStoreHeaders()
	h.Set("WWW-Authenticate", r.authenticate())
	return h
}

func (r *ErrorResponse) authenticate() string {
	return fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		quote(r.Realm), quote(r.Name()), quote(r.Description()))
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// Redirectable reports whether the error may be sent back to the client's
// redirect URI instead of being rendered.
func (r *ErrorResponse) Redirectable() bool {
	if r.RedirectURI == "" || r.RedirectURI == r.NativeURI {
		return false
	}
	return !errors.Is(r.Err, errors.ErrInvalidRedirectURI) && !errors.Is(r.Err, errors.ErrInvalidClient)
}

// RedirectURIWithError the redirect URI carrying the error in its query, or
// in its fragment for the implicit flow.
func (r *ErrorResponse) RedirectURIWithError() (string, error) {
	params := url.Values{}
	params.Set("error", r.Name())
	params.Set("error_description", r.Description())
	if r.State != "" {
		params.Set("state", r.State)
	}
	return appendParams(r.RedirectURI, params, r.Fragment)
}

// NewForbiddenResponse create to forbidden response instance for a token
// lacking the required scopes
func NewForbiddenResponse(realm string, required []string) *ForbiddenResponse {
	r := NewErrorResponse(errors.ErrInsufficientScope, realm)
	if len(required) > 0 {
		r.description = fmt.Sprintf("Access to this resource requires scope %q.", strings.Join(required, " "))
	}
	return &ForbiddenResponse{ErrorResponse: r}
}

// ForbiddenResponse the access token is valid but lacks a required scope.
type ForbiddenResponse struct {
	*ErrorResponse
}

// Status implements Response.
func (r *ForbiddenResponse) Status() int { return http.StatusForbidden }

// Headers implements Response.
func (r *ForbiddenResponse) Headers() http.Header { return noStoreHeaders() }

// NewTokenResponse create to token response instance
func NewTokenResponse(tok *models.AccessToken, tokenType string, now time.Time) *TokenResponse {
	return &TokenResponse{Token: tok, TokenType: tokenType, now: now}
}

// TokenResponse a successful token endpoint response
type TokenResponse struct {
	Token     *models.AccessToken
	TokenType string

	now time.Time
}

// Status implements Response.
func (r *TokenResponse) Status() int { return http.StatusOK }

// Headers implements Response.
func (r *TokenResponse) Headers() http.Header { return noStoreHeaders() }

// Body implements Response.
func (r *TokenResponse) Body() map[string]interface{} {
	t := r.Token
	data := map[string]interface{}{
		"access_token": t.Token,
		"token_type":   r.TokenType,
		"created_at":   t.CreatedAt.Unix(),
	}
	if v := t.ExpiresInSeconds(r.now); v >= 0 {
		data["expires_in"] = v
	}
	if t.UsesRefreshToken() {
		data["refresh_token"] = t.RefreshToken
	}
	if !t.Scopes.IsEmpty() {
		data["scope"] = t.Scopes.String()
	}
	return data
}

// CodeResponse a successful authorization. It carries either the grant of
// the code flow or the access token of the implicit flow.
type CodeResponse struct {
	Grant     *models.Grant
	Token     *models.AccessToken
	TokenType string
	State     string

	redirectURI string
	nativeURI   string
	now         time.Time
}

// IsNative reports whether the redirect target is the out-of-band marker,
// in which case the code is shown to the resource owner instead.
func (r *CodeResponse) IsNative() bool { return r.redirectURI == r.nativeURI }

// Code the authorization code, "" for the implicit flow.
func (r *CodeResponse) Code() string {
	if r.Grant == nil {
		return ""
	}
	return r.Grant.Token
}

// RedirectURI the redirect target carrying the code in its query or the
// token in its fragment.
func (r *CodeResponse) RedirectURI() (string, error) {
	params := url.Values{}
	if r.Grant != nil {
		params.Set("code", r.Grant.Token)
	} else {
		params.Set("access_token", r.Token.Token)
		params.Set("token_type", r.TokenType)
		if v := r.Token.ExpiresInSeconds(r.now); v >= 0 {
			params.Set("expires_in", fmt.Sprint(v))
		}
		if !r.Token.Scopes.IsEmpty() {
			params.Set("scope", r.Token.Scopes.String())
		}
	}
	if r.State != "" {
		params.Set("state", r.State)
	}
	return appendParams(r.redirectURI, params, r.Grant == nil)
}

// Status implements Response.
func (r *CodeResponse) Status() int {
	if r.IsNative() {
		return http.StatusOK
	}
	return http.StatusFound
}

// Headers implements Response.
func (r *CodeResponse) Headers() http.Header {
	h := noStoreHeaders()
	if !r.IsNative() {
		if uri, err := r.RedirectURI(); err == nil {
			h.Set("Location", uri)
		}
	}
	return h
}

// Body implements Response. Only native redirects carry a body.
func (r *CodeResponse) Body() map[string]interface{} {
	if !r.IsNative() {
		return nil
	}
	if r.Grant != nil {
		return map[string]interface{}{"code": r.Grant.Token}
	}
	return NewTokenResponse(r.Token, r.TokenType, r.now).Body()
}

func appendParams(base string, params url.Values, fragment bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if !fragment {
		q := u.Query()
		for k, vs := range params {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	raw := strings.ReplaceAll(params.Encode(), "+", "%20")
	f, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	u.Fragment, u.RawFragment = f, raw
	return u.String(), nil
}
