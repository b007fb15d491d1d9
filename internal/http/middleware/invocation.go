package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/feedback-annotator/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// AttachInvocation marks the request context as an HTTP-triggered invocation.
// The request id is taken from X-Request-Id or generated; the trace id comes
// from the active span when otelgin started one.
func AttachInvocation() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv := &ctxutil.Invocation{
			Trigger:   ctxutil.TriggerHTTP,
			RequestID: strings.TrimSpace(c.GetHeader(headerRequestID)),
		}
		if inv.RequestID == "" {
			inv.RequestID = uuid.NewString()
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			inv.TraceID = sc.TraceID().String()
		}

		c.Request = c.Request.WithContext(ctxutil.WithInvocation(c.Request.Context(), inv))
		c.Writer.Header().Set(headerRequestID, inv.RequestID)
		if inv.TraceID != "" {
			c.Writer.Header().Set(headerTraceID, inv.TraceID)
		}
		c.Next()
	}
}
