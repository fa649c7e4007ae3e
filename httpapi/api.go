// Package httpapi exposes the engine over HTTP for the storefront widget.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/checkout"
	"github.com/convocart/convocart/convo"
	"github.com/convocart/convocart/core"
	"github.com/convocart/convocart/orders"
	"github.com/convocart/convocart/session"
)

// UserDirectory is the aggregator surface the API needs for users.
type UserDirectory interface {
	SignUp(ctx context.Context, handle, via string) (*core.UserRecord, error)
	GetUser(ctx context.Context, userID string) (*core.UserRecord, error)
	UpdateAddresses(ctx context.Context, userID string, addresses []core.Address) error
}

// Geocoder fills in coordinates for addresses that arrive without them and
// names locations picked on the map.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*core.Coordinates, error)
	ReverseGeocode(ctx context.Context, coords core.Coordinates) (string, error)
}

// Server wires the engine components behind the HTTP routes.
type Server struct {
	cfg          core.Config
	sessions     session.Manager
	orchestrator *convo.Orchestrator
	resolver     *catalog.Resolver
	processor    *checkout.Processor
	store        *orders.Store
	users        UserDirectory
	geocoder     Geocoder
	logger       core.Logger
}

// NewServer creates the API server. geocoder may be nil.
func NewServer(cfg core.Config, sessions session.Manager, orchestrator *convo.Orchestrator, resolver *catalog.Resolver, processor *checkout.Processor, store *orders.Store, users UserDirectory, geocoder Geocoder, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		resolver:     resolver,
		processor:    processor,
		store:        store,
		users:        users,
		geocoder:     geocoder,
		logger:       logger,
	}
}

// Handler builds the gin engine. CORS is open to the storefront origins that
// embed the widget iframe.
func (s *Server) Handler() http.Handler {
	registerValidations()

	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.Config{
		AllowOrigins:     s.cfg.HTTP.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = []string{"*"}
	}
	for _, origin := range corsCfg.AllowOrigins {
		// Credentials with a wildcard origin is rejected by the CORS spec.
		if origin == "*" {
			corsCfg.AllowCredentials = false
			break
		}
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/sessions", s.createSession)
		v1.GET("/geocode/reverse", s.reverseGeocode)

		sess := v1.Group("/sessions/:id")
		{
			sess.POST("/turns", s.handleTurn)

			sess.GET("/cart", s.getCart)
			sess.POST("/cart/items", s.addItem)
			sess.POST("/cart/customize", s.customize)
			sess.PATCH("/cart/quantity", s.updateQuantity)
			sess.DELETE("/cart/lines/:lineID", s.removeLine)
			sess.POST("/cart/clear", s.clearCart)

			sess.POST("/checkout", s.beginCheckout)
			sess.PUT("/checkout/details", s.setDetails)
			sess.POST("/checkout/method", s.selectMethod)
			sess.POST("/checkout/pay", s.pay)
			sess.POST("/checkout/abandon", s.abandonCheckout)

			sess.GET("/orders", s.listOrders)
			sess.GET("/orders/stream", s.streamOrders)

			sess.PUT("/addresses", s.updateAddresses)
		}
	}
	return r
}

// conversation loads the session or writes the error response.
func (s *Server) conversation(c *gin.Context) (*convo.Conversation, bool) {
	conv, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return conv, true
}

// save persists the conversation after a mutation; with the memory backend
// this only refreshes the idle clock.
func (s *Server) save(c *gin.Context, conv *convo.Conversation) {
	if err := s.sessions.Save(c.Request.Context(), conv); err != nil {
		s.logger.Error("Session save failed", map[string]interface{}{
			"operation":  "session_save",
			"session_id": conv.ID,
			"error":      err.Error(),
		})
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.IsNotFound(err):
		status = http.StatusNotFound
	case core.IsValidation(err), errors.Is(err, core.ErrCheckoutStepViolation),
		errors.Is(err, core.ErrEmptyCart), errors.Is(err, core.ErrNoSavedAddress),
		errors.Is(err, core.ErrWrongChain), errors.Is(err, core.ErrWalletNotConnected):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrTurnInFlight), errors.Is(err, core.ErrPaymentInFlight):
		status = http.StatusConflict
	case errors.Is(err, core.ErrPaymentDeclined):
		status = http.StatusPaymentRequired
	case errors.Is(err, core.ErrVerificationTimeout):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
