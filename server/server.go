// Package server exposes the authorization server over HTTP using gin.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-session/session/v3"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/oauth"
)

// OwnerHandler resolves the signed-in resource owner of a request. It
// returns "" when nobody is signed in.
type OwnerHandler func(c *gin.Context) (string, error)

// NewServer create authorization server
func NewServer(cfg *Config, provider *oauth.Provider, clients oauth2.ClientRegistry) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	srv := &Server{
		Config:   cfg,
		Provider: provider,
		Clients:  clients,
	}
	srv.OwnerHandler = srv.sessionOwner
	return srv
}

// Server Provide authorization server
type Server struct {
	Config       *Config
	Provider     *oauth.Provider
	Clients      oauth2.ClientRegistry
	OwnerHandler OwnerHandler
}

const sessionContextKey = "session"

// session starts the request's session once and caches it on the context.
func (s *Server) session(c *gin.Context) (session.Store, error) {
	if v, ok := c.Get(sessionContextKey); ok {
		return v.(session.Store), nil
	}
	store, err := session.Start(c.Request.Context(), c.Writer, c.Request)
	if err != nil {
		return nil, err
	}
	c.Set(sessionContextKey, store)
	return store, nil
}

func (s *Server) sessionOwner(c *gin.Context) (string, error) {
	store, err := s.session(c)
	if err != nil {
		return "", err
	}
	if v, ok := store.Get(s.Config.OwnerSessionKey); ok {
		if id, ok := v.(string); ok {
			return id, nil
		}
	}
	return "", nil
}

// respond writes resp, or the server_error response when err is an
// infrastructure failure.
func (s *Server) respond(c *gin.Context, resp oauth.Response, err error) {
	if err != nil {
		var er *oauth.ErrorResponse
		if errors.As(err, &er) {
			resp = er
		} else {
			s.internalError(c, err)
			return
		}
	}
	for k, vs := range resp.Headers() {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	body := resp.Body()
	if body == nil {
		c.Status(resp.Status())
		return
	}
	c.JSON(resp.Status(), body)
}

func (s *Server) internalError(c *gin.Context, err error) {
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	s.respond(c, oauth.NewErrorResponse(errors.ErrServerError, s.Provider.Config.Realm), nil)
}

func (s *Server) redirect(c *gin.Context, uri string) {
	c.Header("Location", uri)
	c.Status(http.StatusFound)
}

// clientCredentials reads the client uid and secret from HTTP Basic auth,
// falling back to the client_id and client_secret form fields.
func clientCredentials(r *http.Request) oauth.ClientCredentials {
	if id, secret, ok := r.BasicAuth(); ok {
		cc := oauth.ClientCredentials{UID: id, Secret: secret}
		if v, err := url.QueryUnescape(id); err == nil {
			cc.UID = v
		}
		if v, err := url.QueryUnescape(secret); err == nil {
			cc.Secret = v
		}
		return cc
	}
	return oauth.ClientCredentials{
		UID:    FormValue(r, "client_id"),
		Secret: FormValue(r, "client_secret"),
	}
}

// bearerToken reads the access token of a resource request from the
// Authorization header or the access_token parameter.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if prefix := "Bearer "; len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return FormValue(r, "access_token")
}

// FormValue returns the trimmed form value of key, from the body or the
// query.
func FormValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}
