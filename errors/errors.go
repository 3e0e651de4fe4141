package errors

import (
	"errors"
	"net/http"
)

// New returns an error that formats as the given text
var New = errors.New

// Is and As forward to the standard library so callers importing this
// package under the name errors keep the usual helpers.
var (
	Is = errors.Is
	As = errors.As
)

// OAuth2 wire errors (RFC 6749 §4.1.2.1, §5.2; RFC 6750 §3.1)
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrAccessDenied            = errors.New("access_denied")
	ErrInvalidRedirectURI      = errors.New("invalid_redirect_uri")
	ErrInvalidToken            = errors.New("invalid_token")
	ErrInsufficientScope       = errors.New("insufficient_scope")
	ErrServerError             = errors.New("server_error")
	ErrTemporarilyUnavailable  = errors.New("temporarily_unavailable")
)

// Variants are reported on the wire as their parent error but stay
// distinguishable in code and logs.
var (
	// ErrInvalidGrantReuse: an authorization code was redeemed twice.
	ErrInvalidGrantReuse = &Variant{name: "invalid_grant_reuse", parent: ErrInvalidGrant}
	// ErrInvalidTokenReuse: a rotating refresh token was redeemed twice.
	ErrInvalidTokenReuse = &Variant{name: "invalid_token_reuse", parent: ErrInvalidGrant}

	ErrInvalidTokenUnknown = &Variant{name: "invalid_token_unknown", parent: ErrInvalidToken}
	ErrInvalidTokenExpired = &Variant{name: "invalid_token_expired", parent: ErrInvalidToken}
	ErrInvalidTokenRevoked = &Variant{name: "invalid_token_revoked", parent: ErrInvalidToken}
)

// Store contract errors. These never reach the wire directly.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateToken = errors.New("duplicate token")
	ErrAlreadyRevoked = errors.New("already revoked")
)

// Variant is an error with its own identity that is reported as parent.
type Variant struct {
	name   string
	parent error
}

func (v *Variant) Error() string { return v.name }

// Unwrap returns the wire error.
func (v *Variant) Unwrap() error { return v.parent }

// Descriptions error description
var Descriptions = map[error]string{
	ErrInvalidRequest:          "The request is missing a required parameter, includes an unsupported parameter value, or is otherwise malformed.",
	ErrInvalidClient:           "Client authentication failed due to unknown client, no client authentication included, or unsupported authentication method.",
	ErrInvalidGrant:            "The provided authorization grant is invalid, expired, revoked, does not match the redirection URI used in the authorization request, or was issued to another client.",
	ErrInvalidScope:            "The requested scope is invalid, unknown, or malformed.",
	ErrUnauthorizedClient:      "The client is not authorized to perform this request using this method.",
	ErrUnsupportedResponseType: "The authorization server does not support this response type.",
	ErrUnsupportedGrantType:    "The authorization grant type is not supported by the authorization server.",
	ErrAccessDenied:            "The resource owner or authorization server denied the request.",
	ErrInvalidRedirectURI:      "The redirect uri included is not valid.",
	ErrInvalidToken:            "The access token is invalid",
	ErrInsufficientScope:       "The request requires higher privileges than provided by the access token.",
	ErrServerError:             "The authorization server encountered an unexpected condition which prevented it from fulfilling the request.",
	ErrTemporarilyUnavailable:  "The authorization server is currently unable to handle the request due to a temporary overloading or maintenance of the server.",

	ErrInvalidTokenUnknown: "The access token is invalid",
	ErrInvalidTokenExpired: "The access token expired",
	ErrInvalidTokenRevoked: "The access token was revoked",
}

// StatusCodes response error HTTP status code
var StatusCodes = map[error]int{
	ErrInvalidRequest:          http.StatusUnauthorized,
	ErrInvalidClient:           http.StatusUnauthorized,
	ErrInvalidGrant:            http.StatusUnauthorized,
	ErrInvalidScope:            http.StatusUnauthorized,
	ErrUnauthorizedClient:      http.StatusUnauthorized,
	ErrUnsupportedResponseType: http.StatusUnauthorized,
	ErrUnsupportedGrantType:    http.StatusUnauthorized,
	ErrAccessDenied:            http.StatusUnauthorized,
	ErrInvalidRedirectURI:      http.StatusUnauthorized,
	ErrInvalidToken:            http.StatusUnauthorized,
	ErrInsufficientScope:       http.StatusForbidden,
	ErrServerError:             http.StatusInternalServerError,
	ErrTemporarilyUnavailable:  http.StatusServiceUnavailable,
}

// WireError returns the error reported to the client for err: err itself
// when it is a wire error, the nearest wire error it wraps, or
// ErrServerError.
func WireError(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if _, ok := StatusCodes[e]; ok {
			return e
		}
	}
	return ErrServerError
}

// Description returns the most specific description for err.
func Description(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if d, ok := Descriptions[e]; ok {
			return d
		}
	}
	return Descriptions[ErrServerError]
}

// IsReuse reports whether err signals a replayed code or refresh token.
func IsReuse(err error) bool {
	return errors.Is(err, ErrInvalidGrantReuse) || errors.Is(err, ErrInvalidTokenReuse)
}
