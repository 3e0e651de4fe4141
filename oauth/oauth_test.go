package oauth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
	"github.com/legit-games/oauth2/store"
)

const callback = "https://app.example/cb"

type fixture struct {
	ctx    context.Context
	now    time.Time
	cfg    *oauth2.Config
	store  *store.MemoryStore
	p      *Provider
	client *models.Client
	secret string
}

func newFixture(t *testing.T, mutate ...func(*oauth2.Config)) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		now:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		cfg:   oauth2.NewConfig(),
		store: store.NewMemoryStore(),
	}
	f.cfg.DefaultScopes = scopes.New("read")
	f.cfg.OptionalScopes = scopes.New("write", "admin")
	for _, fn := range mutate {
		fn(f.cfg)
	}

	owners := store.NewOwnerStore()
	require.NoError(t, owners.Set("alice", "user-1", "pw"))

	f.p = NewProvider(f.cfg, f.store, owners, WithClock(oauth2.ClockFunc(func() time.Time { return f.now })))
	f.client, f.secret = f.newClient(t, "app", []string{callback, f.cfg.NativeRedirectURI}, "read write")
	return f
}

func (f *fixture) newClient(t *testing.T, name string, uris []string, scope string) (*models.Client, string) {
	t.Helper()
	c, secret, err := models.NewClient(name, uris, scopes.Parse(scope), true)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateClient(f.ctx, c))
	return c, secret
}

func (f *fixture) newPublicClient(t *testing.T, name string) *models.Client {
	t.Helper()
	c, _, err := models.NewClient(name, []string{"https://" + name + ".example/cb"}, scopes.Set{}, false)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateClient(f.ctx, c))
	return c
}

// revokeAllOnReuse rebuilds the provider so that replays are recorded and
// revoke every credential of the pair.
func (f *fixture) revokeAllOnReuse() *[]manage.ReuseEvent {
	events := &[]manage.ReuseEvent{}
	record := func(ctx context.Context, ev manage.ReuseEvent) {
		*events = append(*events, ev)
		manage.RevokeAllOnReuse(f.store)(ctx, ev)
	}
	f.p = NewProvider(f.cfg, f.store, f.p.Owners,
		WithClock(oauth2.ClockFunc(func() time.Time { return f.now })),
		WithIssuerOptions(manage.WithReuseHandler(record)))
	return events
}

func (f *fixture) creds() ClientCredentials {
	return ClientCredentials{UID: f.client.UID, Secret: f.secret}
}

func (f *fixture) authorize(t *testing.T, params AuthorizationParams) Response {
	t.Helper()
	pre, err := f.p.PreAuthorize(f.ctx, params)
	require.NoError(t, err)
	resp, err := f.p.Authorization(pre, "user-1").Issue(f.ctx)
	require.NoError(t, err)
	return resp
}

func (f *fixture) code(t *testing.T, scope string) string {
	t.Helper()
	resp := f.authorize(t, AuthorizationParams{
		ClientID:     f.client.UID,
		ResponseType: "code",
		RedirectURI:  callback,
		Scope:        scope,
		State:        "xyz",
	})
	cr, ok := resp.(*CodeResponse)
	require.True(t, ok, "%#v", resp)
	return cr.Code()
}

func (f *fixture) token(t *testing.T, cc ClientCredentials, params TokenParams) Response {
	t.Helper()
	resp, err := f.p.Token(f.ctx, cc, params)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func asToken(t *testing.T, resp Response) *TokenResponse {
	t.Helper()
	tr, ok := resp.(*TokenResponse)
	require.True(t, ok, "expected token response, got %#v", resp)
	return tr
}

func asError(t *testing.T, resp Response) *ErrorResponse {
	t.Helper()
	er, ok := resp.(*ErrorResponse)
	require.True(t, ok, "expected error response, got %#v", resp)
	return er
}

func bodyJSON(t *testing.T, resp Response) string {
	t.Helper()
	b, err := json.Marshal(resp.Body())
	require.NoError(t, err)
	return string(b)
}
