package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// CreateApplicationRequest the body of an application registration
type CreateApplicationRequest struct {
	Name         string   `json:"name" binding:"required"`
	RedirectURIs []string `json:"redirect_uris"`
	RedirectURI  string   `json:"redirect_uri"` // newline or space separated alternative
	Scopes       string   `json:"scopes"`
	Confidential *bool    `json:"confidential"`
}

func (r CreateApplicationRequest) uris() []string {
	uris := append([]string(nil), r.RedirectURIs...)
	return append(uris, strings.Fields(r.RedirectURI)...)
}

// HandleCreateApplicationGin registers a client. The plaintext secret is
// only ever returned here.
func (s *Server) HandleCreateApplicationGin(c *gin.Context) {
	var req CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}
	sc := scopes.Parse(req.Scopes)
	if !scopes.Valid(req.Scopes) || !sc.IsSubsetOf(s.Provider.Config.Scopes()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope", "error_description": "unknown scope"})
		return
	}

	confidential := req.Confidential == nil || *req.Confidential
	client, secret, err := models.NewClient(req.Name, req.uris(), sc, confidential)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if err := client.Validate(s.Provider.Config.NativeRedirectURI); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}
	if err := s.Clients.CreateClient(c.Request.Context(), client); err != nil {
		s.internalError(c, err)
		return
	}

	log.Info().Str("uid", client.UID).Str("name", client.Name).
		Str("registered_by", GetTokenFromContext(c).ResourceOwnerID).Msg("application registered")

	body := applicationJSON(client)
	if secret != "" {
		body["secret"] = secret
	}
	c.JSON(http.StatusCreated, body)
}

// HandleGetApplicationGin returns a single client by uid.
func (s *Server) HandleGetApplicationGin(c *gin.Context) {
	client, err := s.Clients.FindClientByUID(c.Request.Context(), c.Param("uid"))
	if errors.Is(err, errors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "application not found"})
		return
	} else if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, applicationJSON(client))
}

// HandleDeleteApplicationGin removes a client by uid.
func (s *Server) HandleDeleteApplicationGin(c *gin.Context) {
	uid := c.Param("uid")
	err := s.Clients.DeleteClient(c.Request.Context(), uid)
	if errors.Is(err, errors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "application not found"})
		return
	} else if err != nil {
		s.internalError(c, err)
		return
	}
	log.Info().Str("uid", uid).Msg("application deleted")
	c.Status(http.StatusNoContent)
}

// applicationJSON the public view of a client, without the secret hash.
func applicationJSON(c *models.Client) gin.H {
	return gin.H{
		"id":            c.ID,
		"uid":           c.UID,
		"name":          c.Name,
		"redirect_uris": c.RedirectURIs(),
		"scopes":        c.Scopes.String(),
		"confidential":  c.Confidential,
		"created_at":    c.CreatedAt,
	}
}
