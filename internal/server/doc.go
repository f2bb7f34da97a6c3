// Package server provides HTTP/HTTPS server lifecycle management: a
// Manager wrapping net/http.Server with non-blocking start, graceful
// shutdown within a configured timeout, SIGINT/SIGTERM handling, and an
// asynchronous error channel for serve failures.
package server
