/*
Package metrics provides Prometheus metric collection for the call
evaluation service, covering the HTTP surface, the evaluation pipeline,
external provider calls, the cache, the rate limiter, and webhook
delivery.

Metrics register through promauto under a configurable namespace, so no
manual registry management is needed. Labels keep cardinality low:
provider names, pipeline stages, endpoint classes, and event names only.
*/
package metrics
