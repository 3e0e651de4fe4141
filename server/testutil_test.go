package server

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/oauth"
	"github.com/legit-games/oauth2/scopes"
	"github.com/legit-games/oauth2/store"
)

const (
	callbackURI = "https://client.example/cb"
	nativeURI   = "urn:ietf:wg:oauth:2.0:oob"
)

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	store  *store.MemoryStore
	client *models.Client
	secret string
}

// newTestEnv starts a server with one confidential client and the resource
// owner alice/pw.
func newTestEnv(t *testing.T, configure ...func(*oauth2.Config)) *testEnv {
	t.Helper()

	cfg := oauth2.NewConfig()
	cfg.DefaultScopes = scopes.New("read")
	cfg.OptionalScopes = scopes.New("write", "admin")
	for _, fn := range configure {
		fn(cfg)
	}

	st := store.NewMemoryStore()
	owners := store.NewOwnerStore()
	require.NoError(t, owners.Set("alice", "user-1", "pw"))

	client, secret, err := models.NewClient("app", []string{callbackURI, nativeURI}, scopes.New("read", "write", "admin"), true)
	require.NoError(t, err)
	require.NoError(t, st.CreateClient(context.Background(), client))

	srv := NewServer(NewConfig(), oauth.NewProvider(cfg, st, owners), st)
	ts := httptest.NewServer(NewGinEngine(srv))
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, store: st, client: client, secret: secret}
}

// expect returns a client that keeps cookies and does not follow redirects.
func (env *testEnv) expect(t *testing.T) *httpexpect.Expect {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  env.ts.URL,
		Reporter: httpexpect.NewAssertReporter(t),
		Client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	})
}

// signedInAs replaces the session lookup with a fixed resource owner.
func (env *testEnv) signedInAs(ownerID string) {
	env.srv.OwnerHandler = func(*gin.Context) (string, error) { return ownerID, nil }
}

// passwordToken obtains an access token for alice through the password grant.
func (env *testEnv) passwordToken(t *testing.T, scope string) string {
	return env.expect(t).POST("/oauth/token").
		WithBasicAuth(env.client.UID, env.secret).
		WithFormField("grant_type", "password").
		WithFormField("username", "alice").
		WithFormField("password", "pw").
		WithFormField("scope", scope).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("access_token").String().Raw()
}
