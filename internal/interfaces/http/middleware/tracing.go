// Package middleware provides HTTP middleware for the billing API.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rentbill/backend/internal/infrastructure/logger"
	"github.com/rentbill/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TraceIDHeader returns the request's trace id to the caller
const TraceIDHeader = "X-Trace-ID"

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing starts a server span per request through otelgin
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// TraceID exposes the active trace id in the X-Trace-ID header and adds it to
// the request logger. Without a recording span it does nothing.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if traceID := telemetry.GetTraceID(ctx); traceID != "" {
			c.Writer.Header().Set(TraceIDHeader, traceID)
			reqLogger := logger.FromContext(ctx).With(zap.String("trace_id", traceID))
			c.Set(logger.GinLoggerKey, reqLogger)
			c.Request = c.Request.WithContext(logger.WithContext(ctx, reqLogger))
		}
		c.Next()
	}
}

// SpanAttributes copies the caller identity onto the active span. It runs
// after authentication, inside the span started by Tracing.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if requestID := GetRequestID(c); requestID != "" {
				span.SetAttributes(attribute.String("request_id", requestID))
			}
			if identity, ok := GetIdentity(c); ok {
				span.SetAttributes(
					attribute.String("user_id", identity.UserID.String()),
					attribute.String("role", string(identity.Role)),
					attribute.String("landlord_id", identity.LandlordID.String()),
				)
			}
		}
		c.Next()
	}
}
