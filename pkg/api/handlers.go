package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/biller/pkg/billing"
	"github.com/platinummonkey/biller/pkg/httputil"
	"github.com/platinummonkey/biller/pkg/observability"
)

func (s *Server) welcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Welcome to biller! See /rest/v1/invoices to get started.\n"))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	_ = httputil.WriteSuccess(w, "ok")
}

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	var (
		invoices []billing.Invoice
		err      error
	)

	if raw := httputil.ParseQueryString(r, "status", ""); raw != "" {
		status, parseErr := billing.ParseInvoiceStatus(raw)
		if parseErr != nil {
			httputil.WriteBadRequest(w, parseErr.Error())
			return
		}
		invoices, err = s.invoices.FetchAllByStatus(r.Context(), status)
	} else {
		invoices, err = s.invoices.FetchAll(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []billing.Invoice{}
	}
	_ = httputil.WriteSuccess(w, invoices)
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := s.invoices.Fetch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, invoice)
}

func (s *Server) processInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	ctx := billing.WithTrigger(context.WithoutCancel(r.Context()), billing.TriggerManual)
	action, err := s.billing.ProcessInvoice(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, action)
}

func (s *Server) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.customers.FetchAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if customers == nil {
		customers = []billing.Customer{}
	}
	_ = httputil.WriteSuccess(w, customers)
}

func (s *Server) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	customer, err := s.customers.Fetch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, customer)
}

// runBilling starts a billing run and waits for its report. The run
// outlives a disconnecting client.
func (s *Server) runBilling(w http.ResponseWriter, r *http.Request) {
	ctx := billing.WithTrigger(context.WithoutCancel(r.Context()), billing.TriggerManual)
	report, err := s.billing.RunBillingCycle(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, report)
}

// writeError maps engine and store errors to status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, billing.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, billing.ErrInvalidState),
		errors.Is(err, billing.ErrInvoiceBusy),
		errors.Is(err, billing.ErrRunInProgress):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}
