// Package server exposes the admin API: auth, upload credential issuance,
// hero image pointers and product listings.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/northpine/sitemedia/internal/auth"
	"github.com/northpine/sitemedia/internal/database"
	"github.com/northpine/sitemedia/internal/observability"
	"github.com/northpine/sitemedia/internal/uploader"
)

// Store is what the handlers need from the database.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)

	UpsertHeroImage(ctx context.Context, h *database.HeroImage) error
	GetHeroImage(ctx context.Context, page string) (*database.HeroImage, error)
	DeleteHeroImage(ctx context.Context, page string) error

	ListProducts(ctx context.Context) ([]*database.Product, error)
	GetProduct(ctx context.Context, id string) (*database.Product, error)
	CreateProduct(ctx context.Context, pr *database.Product) error
	UpdateProduct(ctx context.Context, pr *database.Product) error
	SetProductImage(ctx context.Context, id, imageURL string) error
	DeleteProduct(ctx context.Context, id string) error
}

type Config struct {
	Store       Store
	Issuer      uploader.CredentialIssuer
	Tokens      *auth.TokenManager
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	CORSOrigins []string
	Dev         bool
}

type Server struct {
	store   Store
	issuer  uploader.CredentialIssuer
	tokens  *auth.TokenManager
	metrics *observability.Metrics
	log     *zap.Logger
	engine  *gin.Engine
}

func New(cfg Config) *Server {
	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		store:   cfg.Store,
		issuer:  cfg.Issuer,
		tokens:  cfg.Tokens,
		metrics: cfg.Metrics,
		log:     log,
		engine:  gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(otelgin.Middleware("sitemedia"))
	s.engine.Use(s.requestLogger())
	if s.metrics != nil {
		s.engine.Use(s.measureRequests())
	}

	if len(cfg.CORSOrigins) > 0 {
		s.engine.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api/v1")

	api.POST("/auth/login", s.handleLogin)
	api.GET("/auth/session", s.handleSession)

	api.GET("/hero/:page", s.handleGetHero)
	api.GET("/products", s.handleListProducts)
	api.GET("/products/:id", s.handleGetProduct)

	authed := api.Group("", s.requireAuth())
	authed.POST("/auth/logout", s.handleLogout)
	authed.POST("/uploads/credential", s.handleIssueCredential)

	authed.PUT("/hero/:page", s.handleUpsertHero)
	authed.DELETE("/hero/:page", s.handleDeleteHero)

	authed.POST("/products", s.handleCreateProduct)
	authed.PUT("/products/:id", s.handleUpdateProduct)
	authed.PUT("/products/:id/image", s.handleSetProductImage)
	authed.DELETE("/products/:id", s.handleDeleteProduct)
}

// Handler exposes the engine for tests and for custom http.Server setups.
func (s *Server) Handler() http.Handler { return s.engine }

// Run blocks serving the API on addr.
func (s *Server) Run(addr string) error {
	s.log.Info("starting api server", zap.String("addr", addr))
	return s.engine.Run(addr)
}
