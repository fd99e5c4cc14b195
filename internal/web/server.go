package web

import (
	"context"

	"github.com/gin-gonic/gin"

	"remitmatch/internal"
)

// Reconciler is the part of pipeline.Reconciler the HTTP layer needs.
type Reconciler interface {
	ReconcileBatch(ctx context.Context, docs []internal.Document) ([][]internal.GroupResult, error)
}

// InvoiceSource answers ad-hoc candidate searches.
type InvoiceSource interface {
	SearchInvoices(ctx context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error)
}

// InvoiceLookup fetches one invoice; nil without error means not found.
type InvoiceLookup func(ctx context.Context, invoiceID string) (*internal.InvoiceCandidate, error)

// Server exposes reconciliation over HTTP.
type Server struct {
	reconciler Reconciler
	source     InvoiceSource
	lookup     InvoiceLookup
	router     *gin.Engine
}

// NewServer wires routes onto a fresh gin engine.
func NewServer(reconciler Reconciler, source InvoiceSource, lookup InvoiceLookup) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	if gin.Mode() != gin.TestMode {
		router.Use(gin.Logger())
	}

	s := &Server{
		reconciler: reconciler,
		source:     source,
		lookup:     lookup,
		router:     router,
	}

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/reconcile", s.handleReconcile)
		api.POST("/reconcile/batch", s.handleReconcileBatch)
		api.GET("/invoices/search", s.handleInvoiceSearch)
		api.GET("/invoices/:id", s.handleInvoice)
	}

	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() *gin.Engine {
	return s.router
}

// Run starts the web server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
