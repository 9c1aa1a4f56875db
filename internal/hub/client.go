// Package hub implements the cloud hub client: telemetry publishing,
// reported-property updates and the direct-method dispatch the remote
// configuration handlers are invoked through.
package hub

import "context"

// MethodHandler processes one direct method call and returns an HTTP-like
// status plus a UTF-8 JSON body.
type MethodHandler func(ctx context.Context, payload []byte) (int, []byte)

// Client is the hub capability set the core depends on. The dispatch
// processors only use SendMessage; the remote configuration surface uses
// the method registration calls.
type Client interface {
	SendMessage(ctx context.Context, payload []byte, schema string) error
	UpdateReportedProperties(ctx context.Context, properties map[string]any) error
	RegisterMethod(name string, handler MethodHandler)
	RegisterDefaultHandler(handler MethodHandler)
	SetConnectionStatusCallback(cb func(connected bool))
}
