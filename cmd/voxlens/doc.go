/*
Package main is the voxlens server executable.

cmd/voxlens serves the call-evaluation API, the simulated test-run API,
and the carrier callback surface. Subcommands: serve, version, health.
The serve command loads YAML configuration with environment overrides,
builds the provider registry from configured credentials, and runs two
listeners: the API server and a separate Prometheus metrics endpoint.

The middleware chain applies, outermost first: Recovery, RequestID,
SecurityHeaders, RequestLogger, OTelTracing, MetricsMiddleware, CORS,
per-IP RateLimiter, and APIKeyAuth. Health probes, /metrics, and the
carrier callback paths are exempt from API key auth.
*/
package main
