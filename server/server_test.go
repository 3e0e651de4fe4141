package server

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authorizeQuery(env *testEnv, responseType, redirectURI, scope string) map[string]string {
	return map[string]string{
		"client_id":     env.client.UID,
		"response_type": responseType,
		"redirect_uri":  redirectURI,
		"scope":         scope,
		"state":         "xyz",
	}
}

func location(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestAuthorizeCode(t *testing.T) {
	env := newTestEnv(t)
	e := env.expect(t)
	params := authorizeQuery(env, "code", callbackURI, "read write")

	e.GET("/oauth/authorize").WithQueryObject(params).Expect().Status(http.StatusUnauthorized)

	e.POST("/oauth/session").
		WithFormField("username", "alice").
		WithFormField("password", "pw").
		Expect().
		Status(http.StatusFound).
		Header("Location").IsEqual("/oauth/authorize")

	consent := e.GET("/oauth/authorize").Expect().Status(http.StatusOK).JSON().Object()
	consent.Value("client_id").String().IsEqual(env.client.UID)
	consent.Value("client_name").String().IsEqual("app")
	consent.Value("scope").String().IsEqual("read write")
	consent.Value("state").String().IsEqual("xyz")

	approve := e.POST("/oauth/authorize")
	for k, v := range params {
		approve = approve.WithFormField(k, v)
	}
	loc := location(t, approve.Expect().Status(http.StatusFound).Header("Location").Raw())
	assert.Equal(t, "client.example", loc.Host)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	exchange := func() *httpexpect.Response {
		return e.POST("/oauth/token").
			WithBasicAuth(env.client.UID, env.secret).
			WithFormField("grant_type", "authorization_code").
			WithFormField("code", code).
			WithFormField("redirect_uri", callbackURI).
			Expect()
	}
	res := exchange()
	res.Status(http.StatusOK)
	res.Header("Cache-Control").IsEqual("no-store")
	res.Header("Pragma").IsEqual("no-cache")
	tok := res.JSON().Object()
	tok.Value("token_type").String().IsEqual("Bearer")
	tok.Value("scope").String().IsEqual("read write")
	tok.Value("expires_in").Number().Gt(0)
	tok.ContainsKey("refresh_token")
	tok.ContainsKey("created_at")
	access := tok.Value("access_token").String().Raw()

	replay := exchange()
	replay.Status(http.StatusUnauthorized)
	replay.JSON().Object().Value("error").String().IsEqual("invalid_grant")

	info := e.POST("/oauth/introspect").
		WithBasicAuth(env.client.UID, env.secret).
		WithFormField("token", access).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	info.Value("active").Boolean().IsTrue()
	info.Value("client_id").String().IsEqual(env.client.UID)
	info.Value("scope").String().IsEqual("read write")

	e.POST("/oauth/revoke").
		WithBasicAuth(env.client.UID, env.secret).
		WithFormField("token", access).
		Expect().
		Status(http.StatusOK)

	e.POST("/oauth/introspect").
		WithBasicAuth(env.client.UID, env.secret).
		WithFormField("token", access).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		IsEqual(map[string]interface{}{"active": false})

	e.DELETE("/oauth/session").Expect().Status(http.StatusNoContent)
	approve = e.POST("/oauth/authorize")
	for k, v := range params {
		approve = approve.WithFormField(k, v)
	}
	approve.Expect().Status(http.StatusUnauthorized)
}

func TestSignInRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	env.expect(t).POST("/oauth/session").
		WithFormField("username", "alice").
		WithFormField("password", "nope").
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().Value("error").String().IsEqual("access_denied")
}

func TestAuthorizeTrustedClientSkipsConsent(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Provider.Config.SkipAuthorization = []string{env.client.UID}
	env.signedInAs("user-1")

	loc := env.expect(t).GET("/oauth/authorize").
		WithQueryObject(authorizeQuery(env, "code", callbackURI, "read")).
		Expect().
		Status(http.StatusFound).
		Header("Location").Raw()
	assert.NotEmpty(t, location(t, loc).Query().Get("code"))
}

func TestAuthorizeMatchingTokenSkipsConsent(t *testing.T) {
	env := newTestEnv(t)
	env.signedInAs("user-1")
	e := env.expect(t)

	e.GET("/oauth/authorize").
		WithQueryObject(authorizeQuery(env, "code", callbackURI, "read")).
		Expect().
		Status(http.StatusOK)

	env.passwordToken(t, "read")

	e.GET("/oauth/authorize").
		WithQueryObject(authorizeQuery(env, "code", callbackURI, "read")).
		Expect().
		Status(http.StatusFound)
}

func TestAuthorizeImplicit(t *testing.T) {
	env := newTestEnv(t)
	env.signedInAs("user-1")

	raw := env.expect(t).POST("/oauth/authorize").
		WithFormField("client_id", env.client.UID).
		WithFormField("response_type", "token").
		WithFormField("redirect_uri", callbackURI).
		WithFormField("scope", "read").
		WithFormField("state", "xyz").
		Expect().
		Status(http.StatusFound).
		Header("Location").Raw()

	u := location(t, raw)
	assert.Empty(t, u.RawQuery)
	frag, err := url.ParseQuery(u.EscapedFragment())
	require.NoError(t, err)
	assert.NotEmpty(t, frag.Get("access_token"))
	assert.Equal(t, "Bearer", frag.Get("token_type"))
	assert.Equal(t, "read", frag.Get("scope"))
	assert.Equal(t, "xyz", frag.Get("state"))
}

func TestAuthorizeNative(t *testing.T) {
	env := newTestEnv(t)
	env.signedInAs("user-1")

	env.expect(t).POST("/oauth/authorize").
		WithFormField("client_id", env.client.UID).
		WithFormField("response_type", "code").
		WithFormField("redirect_uri", nativeURI).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("code").String().NotEmpty()
}

func TestAuthorizeErrors(t *testing.T) {
	env := newTestEnv(t)
	env.signedInAs("user-1")
	e := env.expect(t)

	t.Run("unknown client is rendered", func(t *testing.T) {
		params := authorizeQuery(env, "code", callbackURI, "read")
		params["client_id"] = "nobody"
		e.GET("/oauth/authorize").
			WithQueryObject(params).
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			Value("error").String().IsEqual("invalid_client")
	})

	t.Run("unregistered redirect uri is rendered", func(t *testing.T) {
		e.GET("/oauth/authorize").
			WithQueryObject(authorizeQuery(env, "code", "https://evil.example/cb", "read")).
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			Value("error").String().IsEqual("invalid_redirect_uri")
	})

	t.Run("bad scope is redirected", func(t *testing.T) {
		raw := e.GET("/oauth/authorize").
			WithQueryObject(authorizeQuery(env, "code", callbackURI, "delete")).
			Expect().
			Status(http.StatusFound).
			Header("Location").Raw()
		q := location(t, raw).Query()
		assert.Equal(t, "invalid_scope", q.Get("error"))
		assert.Equal(t, "xyz", q.Get("state"))
		assert.NotEmpty(t, q.Get("error_description"))
	})

	t.Run("unsupported response type is redirected", func(t *testing.T) {
		raw := e.GET("/oauth/authorize").
			WithQueryObject(authorizeQuery(env, "id_token", callbackURI, "read")).
			Expect().
			Status(http.StatusFound).
			Header("Location").Raw()
		assert.Equal(t, "unsupported_response_type", location(t, raw).Query().Get("error"))
	})
}

func TestAuthorizeDeny(t *testing.T) {
	env := newTestEnv(t)
	env.signedInAs("user-1")

	raw := env.expect(t).DELETE("/oauth/authorize").
		WithQueryObject(authorizeQuery(env, "code", callbackURI, "read")).
		Expect().
		Status(http.StatusFound).
		Header("Location").Raw()
	q := location(t, raw).Query()
	assert.Equal(t, "access_denied", q.Get("error"))
	assert.Equal(t, "xyz", q.Get("state"))
	assert.Empty(t, q.Get("code"))
}

func TestTokenErrors(t *testing.T) {
	env := newTestEnv(t)
	e := env.expect(t)

	res := e.POST("/oauth/token").
		WithBasicAuth(env.client.UID, env.secret).
		WithFormField("grant_type", "urn:ietf:params:oauth:grant-type:device_code").
		Expect()
	res.Status(http.StatusUnauthorized)
	res.Header("WWW-Authenticate").Contains(`error="unsupported_grant_type"`)
	res.JSON().Object().Value("error").String().IsEqual("unsupported_grant_type")

	e.POST("/oauth/token").
		WithBasicAuth(env.client.UID, "wrong").
		WithFormField("grant_type", "client_credentials").
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().Value("error").String().IsEqual("invalid_client")

	e.POST("/oauth/token").
		WithFormField("client_id", env.client.UID).
		WithFormField("client_secret", env.secret).
		WithFormField("grant_type", "client_credentials").
		WithFormField("scope", "read").
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("access_token").String().NotEmpty()
}

func TestIntrospectionRequiresClient(t *testing.T) {
	env := newTestEnv(t)
	access := env.passwordToken(t, "read")

	env.expect(t).POST("/oauth/introspect").
		WithHeader("Authorization", "Bearer "+access).
		WithFormField("token", access).
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().Value("error").String().IsEqual("invalid_client")
}

func TestTokenInfo(t *testing.T) {
	env := newTestEnv(t)
	access := env.passwordToken(t, "read write")
	e := env.expect(t)

	info := e.GET("/oauth/token/info").
		WithHeader("Authorization", "Bearer "+access).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	info.Value("resource_owner_id").String().IsEqual("user-1")
	info.Value("scopes").Array().ConsistsOf("read", "write")
	info.Value("expires_in_seconds").Number().Gt(0)
	info.Value("application").Object().Value("uid").String().IsEqual(env.client.UID)

	res := e.GET("/oauth/token/info").
		WithHeader("Authorization", "Bearer unknown").
		Expect()
	res.Status(http.StatusUnauthorized)
	res.Header("WWW-Authenticate").Contains(`error="invalid_token"`)
}
