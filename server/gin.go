package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// NewGinEngine builds a Gin router and registers all OAuth2 routes.
func NewGinEngine(s *Server) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(parseFormMiddleware())

	authorize := r.Group("/oauth/authorize")
	authorize.GET("", s.restoreAuthorizeFormMiddleware(), s.HandleAuthorizeGin)
	authorize.POST("", s.HandleApproveGin)
	authorize.DELETE("", s.HandleDenyGin)

	r.POST("/oauth/session", s.HandleSignInGin)
	r.DELETE("/oauth/session", s.HandleSignOutGin)

	r.POST("/oauth/token", s.HandleTokenGin)
	if s.Config.AllowGetAccessRequest {
		r.GET("/oauth/token", s.HandleTokenGin)
	}

	r.POST("/oauth/introspect", s.HandleIntrospectionGin)
	r.POST("/oauth/revoke", s.HandleRevocationGin)
	r.GET("/oauth/token/info", s.HandleTokenInfoGin)

	// Application registration
	admin := r.Group("/oauth/applications")
	admin.Use(s.RequireToken(s.Provider.Config.AdminScope))
	admin.POST("", s.HandleCreateApplicationGin)
	admin.GET("/:uid", s.HandleGetApplicationGin)
	admin.DELETE("/:uid", s.HandleDeleteApplicationGin)

	return r
}

// requestLogger logs one line per request. Query strings are left out as
// they may carry codes and tokens.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// parseFormMiddleware ensures r.ParseForm() is called for urlencoded/multipart requests so r.FormValue works.
func parseFormMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		r := c.Request
		ct := r.Header.Get("Content-Type")
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
				_ = r.ParseForm()
			}
		}
		c.Next()
	}
}

// restoreAuthorizeFormMiddleware restores the authorize form saved in the
// session when sign-in interrupted the request.
func (s *Server) restoreAuthorizeFormMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("client_id") != "" {
			c.Next()
			return
		}
		if store, err := s.session(c); err == nil {
			if v, ok := store.Get(s.Config.ReturnURIKey); ok {
				if form, ok2 := v.(url.Values); ok2 {
					c.Request.Form = form
				} else if form, ok2 := v.(map[string][]string); ok2 {
					c.Request.Form = form
				}
				store.Delete(s.Config.ReturnURIKey)
				_ = store.Save()
			}
		}
		c.Next()
	}
}
