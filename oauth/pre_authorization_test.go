package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
)

func TestPreAuthorization(t *testing.T) {
	f := newFixture(t)
	valid := AuthorizationParams{
		ClientID:     f.client.UID,
		ResponseType: "code",
		RedirectURI:  callback,
		Scope:        "read",
		State:        "xyz",
	}

	t.Run("authorizable", func(t *testing.T) {
		pre, err := f.p.PreAuthorize(f.ctx, valid)
		require.NoError(t, err)
		assert.True(t, pre.Authorizable())
		assert.Nil(t, pre.ErrorResponse())
		assert.Equal(t, "read", pre.Scopes().String())
	})

	t.Run("default scopes", func(t *testing.T) {
		params := valid
		params.Scope = ""
		pre, err := f.p.PreAuthorize(f.ctx, params)
		require.NoError(t, err)
		assert.True(t, pre.Authorizable())
		assert.Equal(t, "read", pre.Scopes().String())
	})

	cases := []struct {
		name   string
		mutate func(*AuthorizationParams)
		err    error
	}{
		{"unsupported response type", func(p *AuthorizationParams) { p.ResponseType = "id_token" }, errors.ErrUnsupportedResponseType},
		{"unknown client", func(p *AuthorizationParams) { p.ClientID = "nope" }, errors.ErrInvalidClient},
		{"first failure wins", func(p *AuthorizationParams) { p.ResponseType = ""; p.ClientID = "nope" }, errors.ErrUnsupportedResponseType},
		{"scope beyond client", func(p *AuthorizationParams) { p.Scope = "read admin" }, errors.ErrInvalidScope},
		{"unknown scope", func(p *AuthorizationParams) { p.Scope = "delete" }, errors.ErrInvalidScope},
		{"control character in scope", func(p *AuthorizationParams) { p.Scope = "read\twrite" }, errors.ErrInvalidScope},
		{"missing redirect", func(p *AuthorizationParams) { p.RedirectURI = "" }, errors.ErrInvalidRedirectURI},
		{"trailing slash", func(p *AuthorizationParams) { p.RedirectURI = callback + "/" }, errors.ErrInvalidRedirectURI},
		{"extra query", func(p *AuthorizationParams) { p.RedirectURI = callback + "?x=1" }, errors.ErrInvalidRedirectURI},
		{"case", func(p *AuthorizationParams) { p.RedirectURI = "https://APP.example/cb" }, errors.ErrInvalidRedirectURI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := valid
			tc.mutate(&params)
			pre, err := f.p.PreAuthorize(f.ctx, params)
			require.NoError(t, err)
			assert.False(t, pre.Authorizable())
			assert.Equal(t, tc.err, pre.Error())
			assert.Equal(t, tc.err.Error(), pre.ErrorResponse().Name())
		})
	}

	t.Run("native redirect", func(t *testing.T) {
		params := valid
		params.RedirectURI = f.cfg.NativeRedirectURI
		pre, err := f.p.PreAuthorize(f.ctx, params)
		require.NoError(t, err)
		assert.True(t, pre.Authorizable())

		other, _ := f.newClient(t, "web", []string{"https://web.example/cb"}, "")
		params.ClientID = other.UID
		pre, err = f.p.PreAuthorize(f.ctx, params)
		require.NoError(t, err)
		assert.Equal(t, errors.ErrInvalidRedirectURI, pre.Error())
	})

	t.Run("client without scopes allows server scopes", func(t *testing.T) {
		other, _ := f.newClient(t, "any", []string{"https://any.example/cb"}, "")
		pre, err := f.p.PreAuthorize(f.ctx, AuthorizationParams{
			ClientID:     other.UID,
			ResponseType: "code",
			RedirectURI:  "https://any.example/cb",
			Scope:        "read write admin",
		})
		require.NoError(t, err)
		assert.True(t, pre.Authorizable())
	})

	t.Run("disabled response type", func(t *testing.T) {
		f := newFixture(t, func(c *oauth2.Config) { c.AuthorizationResponseTypes = []oauth2.ResponseType{oauth2.Code} })
		params := valid
		params.ClientID = f.client.UID
		params.ResponseType = "token"
		pre, err := f.p.PreAuthorize(f.ctx, params)
		require.NoError(t, err)
		assert.Equal(t, errors.ErrUnsupportedResponseType, pre.Error())
	})
}

func TestPreAuthorizationErrorRedirect(t *testing.T) {
	f := newFixture(t)

	t.Run("redirectable to validated uri", func(t *testing.T) {
		pre, err := f.p.PreAuthorize(f.ctx, AuthorizationParams{
			ClientID:     f.client.UID,
			ResponseType: "code",
			RedirectURI:  callback,
			Scope:        "admin",
			State:        "s1",
		})
		require.NoError(t, err)
		er := pre.ErrorResponse()
		require.NotNil(t, er)
		assert.True(t, er.Redirectable())

		uri, err := er.RedirectURIWithError()
		require.NoError(t, err)
		u, err := url.Parse(uri)
		require.NoError(t, err)
		assert.Equal(t, "invalid_scope", u.Query().Get("error"))
		assert.Equal(t, "s1", u.Query().Get("state"))
		assert.NotEmpty(t, u.Query().Get("error_description"))
		assert.Empty(t, u.Fragment)
	})

	t.Run("fragment for implicit flow", func(t *testing.T) {
		pre, err := f.p.PreAuthorize(f.ctx, AuthorizationParams{
			ClientID:     f.client.UID,
			ResponseType: "token",
			RedirectURI:  callback,
			Scope:        "admin",
		})
		require.NoError(t, err)
		uri, err := pre.ErrorResponse().RedirectURIWithError()
		require.NoError(t, err)
		u, err := url.Parse(uri)
		require.NoError(t, err)
		assert.Empty(t, u.RawQuery)
		frag, err := url.ParseQuery(u.EscapedFragment())
		require.NoError(t, err)
		assert.Equal(t, "invalid_scope", frag.Get("error"))
	})

	t.Run("never redirected", func(t *testing.T) {
		for _, params := range []AuthorizationParams{
			{ClientID: "nope", ResponseType: "code", RedirectURI: callback},
			{ClientID: f.client.UID, ResponseType: "code", RedirectURI: "https://evil.example/cb"},
			{ClientID: f.client.UID, ResponseType: "code", RedirectURI: f.cfg.NativeRedirectURI, Scope: "admin"},
		} {
			pre, err := f.p.PreAuthorize(f.ctx, params)
			require.NoError(t, err)
			er := pre.ErrorResponse()
			require.NotNil(t, er, "%+v", params)
			assert.False(t, er.Redirectable(), "%+v", params)
		}
	})
}
