// Package observability provides OpenTelemetry tracing and metrics for
// the security core's components: the interceptor's decision latency,
// capability issuance, audit-chain appends, and plugin host calls.
//
// Initialize at application startup:
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "astridguard",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//	})
//	defer p.Shutdown(ctx)
//
// Track an operation from start to finish:
//
//	ctx, done := p.TrackOperation(ctx, "intercept", observability.InterceptOperation(sessionID, actionType, "")...)
//	result, err := interceptor.Intercept(ctx, action, caller, nil)
//	done(err)
//
// Create spans and attach domain attributes manually:
//
//	ctx, span := p.StartSpan(ctx, "capability.issue")
//	defer span.End()
//	span.SetAttributes(observability.CapabilityOperation(tokenID, resource, permission, scope)...)
package observability
