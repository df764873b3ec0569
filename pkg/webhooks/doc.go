// Package webhooks notifies external systems when a billing run finishes.
//
// Notifier implements billing.Reporter. Each run report is posted as JSON to
// every subscribed webhook:
//
//	{"id": "...", "type": "billing.run.completed", "timestamp": "...", "data": {<run report>}}
//
// Runs with errored invoices are sent as billing.run.errored instead.
//
// When a secret is configured the body is signed with HMAC-SHA256 and sent in
// the X-Biller-Signature header as "sha256=<hex>". Receivers verify it with:
//
//	if !webhooks.VerifySignature(body, r.Header.Get(webhooks.HeaderSignature), secret) {
//		http.Error(w, "invalid signature", http.StatusUnauthorized)
//		return
//	}
//
// # Retry Policy
//
// Network errors, 429 and 5xx responses are retried with exponential backoff
// (1s, 2s, 4s, 8s) for up to 5 attempts. Other responses fail immediately.
package webhooks
