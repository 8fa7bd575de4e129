// Package api exposes the chat service over HTTP with gin.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	orchestratorx "github.com/tanpawarit/relay-support-router/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	"github.com/tanpawarit/relay-support-router/datastore"
)

type Config struct {
	Addr            string        `split_words:"true" default:":3001"`
	RateLimit       int           `split_words:"true" default:"100"`
	RateWindow      time.Duration `split_words:"true" default:"1m"`
	AllowedOrigins  []string      `split_words:"true" default:"http://localhost:3000,http://localhost:3001"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	HistoryLimit    int           `split_words:"true" default:"10"`
	ServiceName     string        `split_words:"true" default:"relay-support-router"`
}

// Processor is the orchestrator surface the API depends on.
type Processor interface {
	Process(ctx context.Context, req orchestratorx.Request) orchestratorx.Result
	ListHandlers() []contractx.HandlerSummary
	Capabilities(t contractx.HandlerType) (contractx.Capabilities, error)
}

// Store is the persistence surface the API depends on.
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (*datastore.Conversation, error)
	Conversation(ctx context.Context, conversationID string) (*datastore.Conversation, error)
	UserConversations(ctx context.Context, userID string, limit int) ([]*datastore.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	AddMessage(ctx context.Context, in datastore.NewMessage) (*datastore.Message, error)
	History(ctx context.Context, conversationID string, limit int) ([]datastore.HistoryEntry, error)
	EnsureUser(ctx context.Context, userID, email, name string) (*datastore.User, error)
	UpsertUser(ctx context.Context, userID, email, name string) (*datastore.User, error)
	UserByID(ctx context.Context, userID string) (*datastore.User, error)
	AppendMetrics(ctx context.Context, rec contractx.MetricsRecord) error
	Ping(ctx context.Context) error
}

// TierInvalidator drops a cached user tier after the user record changes.
type TierInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// SignatureVerifier authenticates deliveries to the metrics webhook.
type SignatureVerifier interface {
	Verify(signature string, body []byte, destination string) error
}

// Deps are the collaborators behind the routes. Tiers, Verifier and
// EngineProbe are optional.
type Deps struct {
	Processor   Processor
	Store       Store
	Tiers       TierInvalidator
	Verifier    SignatureVerifier
	EngineProbe func(ctx context.Context) error

	// MetricsDestination is the public URL QStash delivers metrics to; it is
	// matched against the signature subject when set.
	MetricsDestination string
}

type Server struct {
	cfg      Config
	deps     Deps
	engine   *gin.Engine
	validate *validator.Validate
	started  time.Time
}

func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Processor == nil {
		return nil, errors.New("api: processor is required")
	}
	if deps.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = datastore.DefaultListLimit
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		started:  time.Now(),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		recovery(),
		otelgin.Middleware(s.cfg.ServiceName),
		requestLogger(),
		cors(s.cfg.AllowedOrigins),
		newClientLimiter(s.cfg.RateLimit, s.cfg.RateWindow).middleware(),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", s.health)

		chat := apiGroup.Group("/chat")
		{
			chat.POST("/messages", s.sendMessage)
			chat.GET("/conversations", s.listConversations)
			chat.GET("/conversations/:id", s.getConversation)
			chat.DELETE("/conversations/:id", s.deleteConversation)
		}

		agents := apiGroup.Group("/agents")
		{
			agents.GET("", s.listAgents)
			agents.GET("/:type/capabilities", s.agentCapabilities)
		}

		user := apiGroup.Group("/user")
		{
			user.POST("/sync", s.syncUser)
			user.GET("/me", s.currentUser)
		}

		apiGroup.POST("/internal/metrics", s.receiveMetrics)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log.Info().Msg("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
