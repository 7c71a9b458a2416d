package server

import "net/http"

const corsAllowHeaders = "Origin, X-Requested-With, Content-Type, Accept"

// corsMiddleware allows every origin. Headers are set before next runs so they
// are present on every response, including 404s from the router.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		next.ServeHTTP(w, r)
	})
}
