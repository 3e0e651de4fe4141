package server

import (
	"github.com/gin-gonic/gin"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/oauth"
)

const tokenContextKey = "access_token"

// RequireToken validates the bearer token and stores it in the context.
// When required is not empty the token must carry at least one of those
// scopes. Failures answer 401 with a WWW-Authenticate challenge, or 403 when
// the token is valid but carries none of the required scopes.
func (s *Server) RequireToken(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := s.Provider.AuthenticateBearer(c.Request.Context(), bearerToken(c.Request), required...)
		if err != nil {
			var forbidden *oauth.ForbiddenResponse
			if errors.As(err, &forbidden) {
				s.respond(c, forbidden, nil)
			} else {
				s.respond(c, nil, err)
			}
			c.Abort()
			return
		}
		c.Set(tokenContextKey, tok)
		c.Next()
	}
}

// GetTokenFromContext retrieves the access token set by RequireToken.
// Returns nil if not found.
func GetTokenFromContext(c *gin.Context) *models.AccessToken {
	if v, ok := c.Get(tokenContextKey); ok {
		if tok, ok := v.(*models.AccessToken); ok {
			return tok
		}
	}
	return nil
}
