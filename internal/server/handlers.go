package server

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/northpine/sitemedia/internal/auth"
	"github.com/northpine/sitemedia/internal/database"
	"github.com/northpine/sitemedia/internal/uploader"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	user, err := s.store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Error("user lookup failed", zap.Error(err))
		}
		// Identical response for unknown email and wrong password.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, expires, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		s.log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign in"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expires.UTC().Format(time.RFC3339),
		"user":      userResponse{ID: user.ID, Email: user.Email},
	})
}

// handleLogout exists so clients have an explicit sign-out call; tokens are
// stateless, so there is nothing to revoke server-side.
func (s *Server) handleLogout(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSession(c *gin.Context) {
	claims, ok := s.bearerClaims(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user":          userResponse{ID: claims.UserID, Email: claims.Email},
	})
}

func (s *Server) handleIssueCredential(c *gin.Context) {
	var req uploader.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed credential request"})
		return
	}

	cred, err := s.issuer.IssueUploadCredential(c.Request.Context(), req)
	if err != nil {
		var ce *uploader.CredentialError
		if errors.As(err, &ce) {
			c.JSON(ce.StatusCode, gin.H{"error": ce.Message})
			return
		}
		s.log.Error("credential issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue upload credential"})
		return
	}

	if s.metrics != nil {
		s.metrics.CredentialsIssued.Inc()
	}
	c.JSON(http.StatusOK, cred)
}

type heroImageBody struct {
	PublicURL  string `json:"publicUrl" binding:"required"`
	StorageKey string `json:"storageKey" binding:"required"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FileSize   int64  `json:"fileSize"`
}

type heroImageResponse struct {
	Page       string `json:"page"`
	PublicURL  string `json:"publicUrl"`
	StorageKey string `json:"storageKey"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FileSize   int64  `json:"fileSize"`
	UpdatedAt  string `json:"updatedAt"`
}

func heroResponse(h *database.HeroImage) heroImageResponse {
	return heroImageResponse{
		Page:       h.Page,
		PublicURL:  h.PublicURL,
		StorageKey: h.StorageKey,
		Width:      h.Width,
		Height:     h.Height,
		FileSize:   h.FileSize,
		UpdatedAt:  h.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleUpsertHero(c *gin.Context) {
	var body heroImageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "publicUrl and storageKey are required"})
		return
	}

	h := &database.HeroImage{
		Page:       c.Param("page"),
		PublicURL:  body.PublicURL,
		StorageKey: body.StorageKey,
		Width:      body.Width,
		Height:     body.Height,
		FileSize:   body.FileSize,
	}
	if err := s.store.UpsertHeroImage(c.Request.Context(), h); err != nil {
		s.log.Error("hero upsert failed", zap.String("page", h.Page), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save hero image"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetHero(c *gin.Context) {
	h, err := s.store.GetHeroImage(c.Request.Context(), c.Param("page"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no hero image for page"})
			return
		}
		s.log.Error("hero lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load hero image"})
		return
	}
	c.JSON(http.StatusOK, heroResponse(h))
}

func (s *Server) handleDeleteHero(c *gin.Context) {
	err := s.store.DeleteHeroImage(c.Request.Context(), c.Param("page"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no hero image for page"})
			return
		}
		s.log.Error("hero delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete hero image"})
		return
	}
	c.Status(http.StatusNoContent)
}

type productBody struct {
	Slug        string `json:"slug" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	PriceCents  int64  `json:"priceCents"`
	Position    int    `json:"position"`
}

type productResponse struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"priceCents"`
	ImageURL    string `json:"imageUrl"`
	Position    int    `json:"position"`
}

func toProductResponse(p *database.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		PriceCents:  p.PriceCents,
		ImageURL:    p.ImageURL,
		Position:    p.Position,
	}
}

func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.store.ListProducts(c.Request.Context())
	if err != nil {
		s.log.Error("product list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list products"})
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

func (s *Server) handleGetProduct(c *gin.Context) {
	p, err := s.store.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		s.log.Error("product lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load product"})
		return
	}
	c.JSON(http.StatusOK, toProductResponse(p))
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	var body productBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug and name are required"})
		return
	}

	p := &database.Product{
		Slug:        body.Slug,
		Name:        body.Name,
		Description: body.Description,
		PriceCents:  body.PriceCents,
		Position:    body.Position,
	}
	if err := s.store.CreateProduct(c.Request.Context(), p); err != nil {
		s.log.Error("product create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create product"})
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(p))
}

func (s *Server) handleUpdateProduct(c *gin.Context) {
	var body productBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug and name are required"})
		return
	}

	p := &database.Product{
		ID:          c.Param("id"),
		Slug:        body.Slug,
		Name:        body.Name,
		Description: body.Description,
		PriceCents:  body.PriceCents,
		Position:    body.Position,
	}
	if err := s.store.UpdateProduct(c.Request.Context(), p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		s.log.Error("product update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update product"})
		return
	}
	c.Status(http.StatusNoContent)
}

type productImageBody struct {
	ImageURL string `json:"imageUrl" binding:"required"`
}

// handleSetProductImage attaches an uploaded image to a product. Product
// uploads do not do this automatically; the dashboard calls it after the
// upload settles.
func (s *Server) handleSetProductImage(c *gin.Context) {
	var body productImageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageUrl is required"})
		return
	}

	err := s.store.SetProductImage(c.Request.Context(), c.Param("id"), body.ImageURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		s.log.Error("product image attach failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not attach image"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteProduct(c *gin.Context) {
	err := s.store.DeleteProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		s.log.Error("product delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete product"})
		return
	}
	c.Status(http.StatusNoContent)
}
