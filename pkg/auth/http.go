package auth

import (
	"net/http"
)

// Response header names set by the middleware. The fingerprint header
// lets clients and edge proxies correlate their requests with server
// logs without either side disclosing the principal identifier.
const (
	// HeaderResponseTraceID carries the active trace ID back to the caller.
	HeaderResponseTraceID = "X-Trace-Id"

	// HeaderPrincipalFingerprint carries the non-reversible principal
	// fingerprint ([FingerprintMissing] when the request was denied).
	HeaderPrincipalFingerprint = "X-Auth-Fingerprint"
)

// Middleware returns an HTTP middleware that resolves authentication
// for every request.
//
// The middleware performs the following steps:
//  1. Runs the [Resolver] over the request's credential surfaces
//  2. Sets the trace-ID and fingerprint response headers
//  3. On denial, terminates the request with the outcome's status and reason
//  4. On success, stores the [AuthContext] in the request context and
//     passes the enriched request to the next handler
//
// Handlers behind the middleware always observe an authenticated
// context; [MustAuthContextFromContext] is safe to call from them.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/api/recall", handleRecall)
//	handler := auth.Middleware(resolver)(mux)
//	http.ListenAndServe(":8080", handler)
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actx := resolver.Resolve(ctx, r)

			if traceID, ok := TraceIDFromContext(ctx); ok {
				w.Header().Set(HeaderResponseTraceID, traceID)
			}
			w.Header().Set(HeaderPrincipalFingerprint, Fingerprint(actx))

			if !actx.Authenticated {
				http.Error(w, actx.Reason, actx.Status)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAuthContext(ctx, actx)))
		})
	}
}
