package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"execution-core/internal/credentials"
	"execution-core/internal/executor"
	"execution-core/internal/reconciler"
	"execution-core/pkg/crypto"
	"execution-core/pkg/db"
)

// Server exposes the inbound intent interface plus the read and
// admin endpoints an operator needs. Webhook ingress and its quota
// logic live upstream; this surface only accepts already-normalized
// intents.
type Server struct {
	Router    *gin.Engine
	Exec      *executor.Service
	Recon     *reconciler.Reconciler
	DB        *db.Database
	Ring      *crypto.KeyRing
	Resolver  *credentials.Resolver
	JWTSecret string
}

// NewServer wires HTTP endpoints around the executor service.
func NewServer(exec *executor.Service, recon *reconciler.Reconciler, database *db.Database, ring *crypto.KeyRing, resolver *credentials.Resolver, jwtSecret string) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())

	s := &Server{
		Router:    r,
		Exec:      exec,
		Recon:     recon,
		DB:        database,
		Ring:      ring,
		Resolver:  resolver,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api/v1")
	api.Use(AuthMiddleware(s.JWTSecret))
	{
		api.POST("/intents", s.submitIntent)
		api.GET("/positions", s.listPositions)
		api.GET("/trades", s.listTrades)
		api.POST("/sync", s.syncPositions)

		api.POST("/credentials", s.upsertCredential)

		api.POST("/relationships", s.createRelationship)
		api.DELETE("/relationships/:id", s.stopRelationship)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
