// Package server exposes the castctl control surface over HTTP.
//
// NewRouter assembles the chi route table and a fixed middleware chain: CORS
// headers first, then request ids, request logging and metrics. Serve is the
// process entry point: it takes the session controller and bind address
// explicitly and blocks until its context is cancelled.
package server
