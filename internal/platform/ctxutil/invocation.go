// Package ctxutil carries the identity of whatever started an annotation run
// (a CLI call, an HTTP request, a scheduled Temporal activity) through the
// context, so run logs and spans can be tied back to it.
package ctxutil

import "context"

type Trigger string

const (
	TriggerCLI      Trigger = "cli"
	TriggerHTTP     Trigger = "http"
	TriggerSchedule Trigger = "schedule"
)

type invocationKey struct{}

type Invocation struct {
	Trigger   Trigger
	TraceID   string
	RequestID string
}

func WithInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns nil when ctx carries no invocation.
func InvocationFrom(ctx context.Context) *Invocation {
	if ctx == nil {
		return nil
	}
	inv, _ := ctx.Value(invocationKey{}).(*Invocation)
	return inv
}

// LogFields returns logger key/value pairs for the identifiers that are set.
func (inv *Invocation) LogFields() []interface{} {
	if inv == nil {
		return nil
	}
	var kv []interface{}
	if inv.Trigger != "" {
		kv = append(kv, "trigger", string(inv.Trigger))
	}
	if inv.TraceID != "" {
		kv = append(kv, "trace_id", inv.TraceID)
	}
	if inv.RequestID != "" {
		kv = append(kv, "request_id", inv.RequestID)
	}
	return kv
}
