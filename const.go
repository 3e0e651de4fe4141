package oauth2

// ResponseType the type of authorization request
type ResponseType string

// define the type of authorization request
const (
	Code  ResponseType = "code"
	Token ResponseType = "token"
)

func (rt ResponseType) String() string {
	return string(rt)
}

// ParseResponseType maps a request parameter to a supported response type.
func ParseResponseType(s string) (ResponseType, bool) {
	switch ResponseType(s) {
	case Code, Token:
		return ResponseType(s), true
	}
	return "", false
}

// GrantType authorization model
type GrantType string

// define authorization model
const (
	AuthorizationCode   GrantType = "authorization_code"
	PasswordCredentials GrantType = "password"
	ClientCredentials   GrantType = "client_credentials"
	Refreshing          GrantType = "refresh_token"
	Implicit            GrantType = "__implicit"
)

func (gt GrantType) String() string {
	if gt == AuthorizationCode ||
		gt == PasswordCredentials ||
		gt == ClientCredentials ||
		gt == Refreshing {
		return string(gt)
	}
	return ""
}

// ParseGrantType maps the grant_type parameter to a token endpoint grant.
// The implicit marker is never accepted from the wire.
func ParseGrantType(s string) (GrantType, bool) {
	gt := GrantType(s)
	if gt.String() == "" {
		return "", false
	}
	return gt, true
}
