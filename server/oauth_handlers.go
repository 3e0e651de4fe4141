package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-session/session/v3"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/oauth"
)

// HandleAuthorizeGin pre-authorizes the request. Trusted clients, and
// owners who already hold a matching token, are authorized right away;
// otherwise the consent details are returned for the owner to approve.
func (s *Server) HandleAuthorizeGin(c *gin.Context) {
	ctx := c.Request.Context()
	pre, ok := s.preAuthorize(c)
	if !ok {
		return
	}
	ownerID, ok := s.requireOwner(c, true)
	if !ok {
		return
	}

	skip := s.Provider.Config.TrustedClient(pre.Client.UID)
	if !skip {
		tok, err := s.Provider.Store.MatchingAccessToken(ctx, pre.Client.ID, ownerID, pre.Scopes())
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			s.internalError(c, err)
			return
		}
		skip = tok != nil && tok.Accessible(s.Provider.Clock.Now())
	}
	if skip {
		resp, err := s.Provider.Authorization(pre, ownerID).Issue(ctx)
		s.respond(c, resp, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_id":     pre.Client.UID,
		"client_name":   pre.Client.Name,
		"redirect_uri":  pre.RedirectURI,
		"response_type": pre.ResponseType.String(),
		"scope":         pre.Scopes().String(),
		"state":         pre.State,
	})
}

// HandleApproveGin issues the code or token the owner consented to.
func (s *Server) HandleApproveGin(c *gin.Context) {
	pre, ok := s.preAuthorize(c)
	if !ok {
		return
	}
	ownerID, ok := s.requireOwner(c, false)
	if !ok {
		return
	}
	resp, err := s.Provider.Authorization(pre, ownerID).Issue(c.Request.Context())
	s.respond(c, resp, err)
}

// HandleDenyGin reports access_denied to the client.
func (s *Server) HandleDenyGin(c *gin.Context) {
	pre, ok := s.preAuthorize(c)
	if !ok {
		return
	}
	ownerID, ok := s.requireOwner(c, false)
	if !ok {
		return
	}
	s.authorizeError(c, s.Provider.Authorization(pre, ownerID).Deny())
}

// preAuthorize binds and validates the authorize parameters. It writes the
// error response and returns false when the request is not authorizable.
func (s *Server) preAuthorize(c *gin.Context) (*oauth.PreAuthorization, bool) {
	var params oauth.AuthorizationParams
	if err := c.ShouldBind(&params); err != nil {
		s.respond(c, oauth.NewErrorResponse(errors.ErrInvalidRequest, s.Provider.Config.Realm), nil)
		return nil, false
	}
	pre, err := s.Provider.PreAuthorize(c.Request.Context(), params)
	if err != nil {
		s.internalError(c, err)
		return nil, false
	}
	if !pre.Authorizable() {
		s.authorizeError(c, pre.ErrorResponse())
		return nil, false
	}
	return pre, true
}

// authorizeError redirects the error to the client when that is safe and
// renders it otherwise.
func (s *Server) authorizeError(c *gin.Context, er *oauth.ErrorResponse) {
	if er.Redirectable() {
		uri, err := er.RedirectURIWithError()
		if err != nil {
			s.internalError(c, err)
			return
		}
		s.redirect(c, uri)
		return
	}
	c.JSON(http.StatusBadRequest, er.Body())
}

// requireOwner resolves the signed-in owner. When nobody is signed in it
// answers 401, saving the authorize form in the session if remember is set
// so the request resumes after sign-in.
func (s *Server) requireOwner(c *gin.Context, remember bool) (string, bool) {
	ownerID, err := s.OwnerHandler(c)
	if err != nil {
		s.internalError(c, err)
		return "", false
	}
	if ownerID != "" {
		return ownerID, true
	}
	if remember {
		if store, err := s.session(c); err == nil {
			store.Set(s.Config.ReturnURIKey, c.Request.Form)
			_ = store.Save()
		}
	}
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":             "unauthorized",
		"error_description": "resource owner must sign in",
	})
	return "", false
}

// HandleSignInGin authenticates the resource owner by username and password
// and keeps the owner id in the session.
func (s *Server) HandleSignInGin(c *gin.Context) {
	ownerID, err := s.Provider.Owners.Authenticate(c.Request.Context(), oauth2.Credentials{
		Username: FormValue(c.Request, "username"),
		Password: c.Request.FormValue("password"),
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	if ownerID == "" {
		log.Warn().Str("username", FormValue(c.Request, "username")).Msg("sign-in failed")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "access_denied",
			"error_description": "invalid username or password",
		})
		return
	}

	store, err := s.session(c)
	if err != nil {
		s.internalError(c, err)
		return
	}
	store.Set(s.Config.OwnerSessionKey, ownerID)
	_, resume := store.Get(s.Config.ReturnURIKey)
	if err := store.Save(); err != nil {
		s.internalError(c, err)
		return
	}
	if resume {
		s.redirect(c, "/oauth/authorize")
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleSignOutGin ends the owner's session.
func (s *Server) HandleSignOutGin(c *gin.Context) {
	if err := session.Destroy(c.Request.Context(), c.Writer, c.Request); err != nil {
		s.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleTokenGin the token endpoint (RFC 6749 §3.2)
func (s *Server) HandleTokenGin(c *gin.Context) {
	var params oauth.TokenParams
	if err := c.ShouldBind(&params); err != nil {
		s.respond(c, oauth.NewErrorResponse(errors.ErrInvalidRequest, s.Provider.Config.Realm), nil)
		return
	}
	resp, err := s.Provider.Token(c.Request.Context(), clientCredentials(c.Request), params)
	s.respond(c, resp, err)
}

// HandleIntrospectionGin implements RFC 7662 Token Introspection.
func (s *Server) HandleIntrospectionGin(c *gin.Context) {
	params := oauth.IntrospectionParams{
		Token:         FormValue(c.Request, "token"),
		TokenTypeHint: FormValue(c.Request, "token_type_hint"),
	}
	resp, err := s.Provider.Introspect(c.Request.Context(), clientCredentials(c.Request), bearerToken(c.Request), params)
	s.respond(c, resp, err)
}

// HandleRevocationGin implements RFC 7009 Token Revocation.
func (s *Server) HandleRevocationGin(c *gin.Context) {
	params := oauth.RevocationParams{
		Token:         FormValue(c.Request, "token"),
		TokenTypeHint: FormValue(c.Request, "token_type_hint"),
	}
	resp, err := s.Provider.Revoke(c.Request.Context(), clientCredentials(c.Request), params)
	s.respond(c, resp, err)
}

// HandleTokenInfoGin describes the caller's bearer token.
func (s *Server) HandleTokenInfoGin(c *gin.Context) {
	resp, err := s.Provider.TokenInfo(c.Request.Context(), bearerToken(c.Request))
	s.respond(c, resp, err)
}
