// Package httpclient is the outbound HTTP client shared by the plugin
// repository fetcher and the safe-mode broadcaster: resty on top of a
// retrying transport, with a rate limiter and a circuit breaker.
package httpclient
