// Package api exposes invoices, customers and billing runs over HTTP.
//
// Routes:
//
//	GET  /                                 welcome text
//	GET  /rest/health                      "ok"
//	GET  /rest/v1/invoices[?status=...]    list invoices
//	GET  /rest/v1/invoices/{id}            fetch one invoice
//	PUT  /rest/v1/invoices/{id}/process    charge one pending invoice now
//	GET  /rest/v1/customers                list customers
//	GET  /rest/v1/customers/{id}           fetch one customer
//	POST /rest/v1/billing/run              run a billing cycle and return its report
//
// Missing resources map to 404, invoices that are not pending or already
// being charged and overlapping billing runs map to 409.
package api
