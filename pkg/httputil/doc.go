// The response helpers write JSON bodies; errors always have the shape
// {"error": "..."}:
//
//	httputil.WriteSuccess(w, invoice)
//	httputil.WriteNotFoundError(w, err.Error())
//
// Path parameters are read from gorilla/mux route variables:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return
//	}
//
// The middleware installs a request id and request scoped logger, logs
// each request and turns handler panics into 500 responses:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//	)(router)
package httputil
