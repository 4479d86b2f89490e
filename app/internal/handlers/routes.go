package handlers

import "net/http"

// SetupRoutes configures all HTTP routes.
func (a *API) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ingest", a.HandleIngest)
	mux.HandleFunc("/api/status", a.HandleStatusAll)
	mux.HandleFunc("/api/status/", a.HandleStatus)
	mux.HandleFunc("/api/history/", a.HandleHistory)
	mux.HandleFunc("/api/source/", a.HandleSource)
	mux.HandleFunc("/healthz", a.HandleHealthz)

	return SecureHeaders(mux)
}

// SecureHeaders adds security headers to responses.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
