/*
Package tracing correlates diagnostics API requests, bridge calls and plugin
HTTP calls under one trace id.

Spans are logged at debug level by a background collector; failed spans are
logged as warnings. Trace context travels in the X-Trace-ID and X-Span-ID
headers, and in the matching lowercase gRPC metadata keys.

	tracer := tracing.New("host", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	grpc.NewServer(
		grpc.ChainUnaryInterceptor(tracing.UnaryServerInterceptor(tracer)),
		grpc.ChainStreamInterceptor(tracing.StreamServerInterceptor(tracer)),
	)
*/
package tracing
