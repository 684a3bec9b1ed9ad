// Package server exposes the photopath analysis flow over HTTP.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/anatolykoptev/go-photopath"
)

// UserHeader carries the signed-in user's ID. Requests without it are anonymous.
const UserHeader = "X-User-ID"

const identityKey = "photopath.identity"

// Server routes requests to one photopath.Session per identity.
type Server struct {
	cfg    *photopath.Config
	quota  *photopath.QuotaTracker
	thumbs *photopath.ThumbnailCache
	router *gin.Engine

	mu       sync.Mutex
	sessions map[string]*photopath.Session
}

// New builds the router. cfg.Journal defaults to an in-memory journal.
func New(cfg *photopath.Config, corsOrigins []string) *Server {
	if cfg.Journal == nil {
		cfg.Journal = photopath.NewMemoryJournal()
	}
	s := &Server{
		quota:    photopath.NewQuotaTracker(cfg),
		thumbs:   photopath.NewThumbnailCache(cfg),
		cfg:      cfg,
		sessions: make(map[string]*photopath.Session),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  corsOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", UserHeader},
			ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
			MaxAge:        12 * time.Hour,
		}))
	}
	router.Use(identify)

	router.GET("/healthz", s.health)
	api := router.Group("/api")
	api.POST("/photo", s.postPhoto)
	api.POST("/analyze", s.postAnalyze)
	api.POST("/save", s.postSave)
	api.POST("/reset", s.postReset)
	api.GET("/usage", s.getUsage)
	api.GET("/entries", s.getEntries)
	api.GET("/entries/:id", s.getEntry)
	api.GET("/entries/:id/thumbnail", s.getThumbnail)
	api.GET("/entries/:id/card", s.getCard)
	router.NoRoute(func(c *gin.Context) { c.JSON(http.StatusNotFound, gin.H{"error": "not found"}) })

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func identify(c *gin.Context) {
	c.Set(identityKey, photopath.Identity{UserID: c.GetHeader(UserHeader)})
	c.Next()
}

func identity(c *gin.Context) photopath.Identity {
	id, _ := c.Get(identityKey)
	ident, _ := id.(photopath.Identity)
	return ident
}

// session returns the identity's session, creating it on first use.
// All anonymous requests share one session.
func (s *Server) session(id photopath.Identity) *photopath.Session {
	key := photopath.UsageStorageKey(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = photopath.NewSession(s.cfg, s.quota)
		s.sessions[key] = sess
	}
	return sess
}
