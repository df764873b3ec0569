package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/biller/pkg/billing"
	"github.com/platinummonkey/biller/pkg/httputil"
)

// BillingService is the part of billing.Service the API drives
type BillingService interface {
	ProcessInvoice(ctx context.Context, id int64) (billing.InvoicePaymentAction, error)
	RunBillingCycle(ctx context.Context) (*billing.RunReport, error)
}

// Server represents our API server
type Server struct {
	invoices  billing.InvoiceStore
	customers billing.CustomerStore
	billing   BillingService
	logger    logrus.FieldLogger
	router    *mux.Router

	actionMiddleware []mux.MiddlewareFunc
}

// Option configures a Server
type Option func(*Server)

// WithActionMiddleware wraps the routes that charge customers, such as
// rate limiting
func WithActionMiddleware(mws ...mux.MiddlewareFunc) Option {
	return func(s *Server) {
		s.actionMiddleware = append(s.actionMiddleware, mws...)
	}
}

// NewServer creates a new API server and registers its routes
func NewServer(invoices billing.InvoiceStore, customers billing.CustomerStore, svc BillingService, logger logrus.FieldLogger, opts ...Option) *Server {
	s := &Server{
		invoices:  invoices,
		customers: customers,
		billing:   svc,
		logger:    logger,
		router:    mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.welcome).Methods(http.MethodGet)
	s.router.HandleFunc("/rest/health", s.health).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/rest/v1").Subrouter()

	// Invoice routes
	v1.HandleFunc("/invoices", s.listInvoices).Methods(http.MethodGet)
	v1.HandleFunc("/invoices/{id}", s.getInvoice).Methods(http.MethodGet)
	v1.Handle("/invoices/{id}/process", s.action(s.processInvoice)).Methods(http.MethodPut)

	// Customer routes
	v1.HandleFunc("/customers", s.listCustomers).Methods(http.MethodGet)
	v1.HandleFunc("/customers/{id}", s.getCustomer).Methods(http.MethodGet)

	// Billing routes
	v1.Handle("/billing/run", s.action(s.runBilling)).Methods(http.MethodPost)
}

func (s *Server) action(h http.HandlerFunc) http.Handler {
	var handler http.Handler = h
	for i := len(s.actionMiddleware) - 1; i >= 0; i-- {
		handler = s.actionMiddleware[i](handler)
	}
	return handler
}

// Router exposes the router so callers can install middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the request id, logging and recovery middleware
func (s *Server) Handler() http.Handler {
	return httputil.Chain(
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
	)(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
