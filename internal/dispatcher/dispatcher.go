// Package dispatcher routes decoded command envelopes to registered handlers.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/telemetry"
)

// Handler serves one command.
type Handler interface {
	Handle(ctx context.Context, cmd protocol.Command) protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd protocol.Command) protocol.Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd protocol.Command) protocol.Response {
	return f(ctx, cmd)
}

// Request is a command with its parameters already extracted.
type Request struct {
	Name      string
	RequestID string
	Params    protocol.Fields
}

// Reply adapts a function over decoded parameters. A returned error becomes
// an error envelope carrying the error's caller-facing message.
func Reply(fn func(ctx context.Context, req Request) (any, error)) Handler {
	return HandlerFunc(func(ctx context.Context, cmd protocol.Command) protocol.Response {
		params, err := cmd.Params()
		if err != nil {
			return protocol.FromError(cmd.RequestID, err)
		}
		data, err := fn(ctx, Request{Name: cmd.Name, RequestID: cmd.RequestID, Params: params})
		if err != nil {
			return protocol.FromError(cmd.RequestID, err)
		}
		return protocol.OK(cmd.RequestID, data)
	})
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source used by the ping built-in.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics bundle.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher maps command names to handlers. Registration is an upsert.
type Dispatcher struct {
	handlers map[string]Handler
	now      func() time.Time
	logger   observability.Logger
	metrics  *telemetry.Metrics
}

// New returns a dispatcher with the ping and echo built-ins registered.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		now:      time.Now,
		logger:   observability.Log(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.Register("ping", HandlerFunc(d.ping))
	d.Register("echo", HandlerFunc(echo))
	return d
}

// Register binds name to h, replacing any previous binding.
func (d *Dispatcher) Register(name string, h Handler) {
	name = strings.TrimSpace(name)
	if name == "" || h == nil {
		return
	}
	d.handlers[name] = h
}

// Names lists registered commands in sorted order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Result is the outcome of serving one inbound envelope.
type Result struct {
	Response protocol.Response
	// Command is the decoded command name, empty when decoding failed.
	Command string
	// Reply marks an inbound reply to one of our own messages. Nothing was
	// dispatched and nothing should be sent back.
	Reply bool
}

// Serve decodes raw once, skips replies and dispatches everything else.
func (d *Dispatcher) Serve(ctx context.Context, raw []byte) Result {
	fields, err := protocol.DecodeObject(string(raw))
	if err == nil && protocol.IsReply(fields) {
		return Result{Reply: true}
	}
	var cmd protocol.Command
	if err == nil {
		cmd, err = protocol.CommandOf(fields)
	}
	if err != nil {
		return Result{Response: d.reject(ctx, err)}
	}
	return Result{Response: d.handle(ctx, cmd), Command: cmd.Name}
}

// Dispatch decodes raw, invokes the matching handler and returns its
// response. Decode failures produce an uncorrelated error response.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) protocol.Response {
	cmd, err := protocol.Decode(raw)
	if err != nil {
		return d.reject(ctx, err)
	}
	return d.handle(ctx, cmd)
}

func (d *Dispatcher) reject(ctx context.Context, err error) protocol.Response {
	d.logger.Warn("discarding undecodable envelope", observability.Err(err))
	d.metrics.RecordCommand(ctx, "", string(protocol.StatusError), 0)
	return protocol.Error("", "invalid envelope: "+errs.MessageOf(err))
}

func (d *Dispatcher) handle(ctx context.Context, cmd protocol.Command) protocol.Response {
	h, ok := d.handlers[cmd.Name]
	if !ok {
		h = HandlerFunc(unknown)
	}

	started := time.Now()
	resp := d.invoke(ctx, h, cmd)
	took := time.Since(started)

	d.metrics.RecordCommand(ctx, metricName(cmd.Name, ok), string(resp.Status), took)
	if resp.Status == protocol.StatusError {
		d.logger.Info("command failed",
			observability.F("command", cmd.Name),
			observability.F("request_id", cmd.RequestID),
			observability.F("message", resp.Message))
	} else {
		d.logger.Debug("command handled",
			observability.F("command", cmd.Name),
			observability.F("request_id", cmd.RequestID),
			observability.F("took", took.String()))
	}
	return resp
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, cmd protocol.Command) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				observability.F("command", cmd.Name),
				observability.F("panic", fmt.Sprint(r)))
			resp = protocol.Error(cmd.RequestID, "internal error handling "+cmd.Name)
		}
	}()
	return h.Handle(ctx, cmd)
}

// metricName bounds label cardinality to registered commands.
func metricName(name string, registered bool) string {
	if registered {
		return name
	}
	return "unknown"
}

func (d *Dispatcher) ping(_ context.Context, cmd protocol.Command) protocol.Response {
	return protocol.OK(cmd.RequestID, map[string]any{
		"time": protocol.FormatTime(d.now()),
	})
}

func echo(_ context.Context, cmd protocol.Command) protocol.Response {
	if cmd.Parameters.IsNull() {
		return protocol.OK(cmd.RequestID, protocol.RawJSON("{}"))
	}
	if cmd.Parameters.Kind == protocol.KindString || !json.Valid([]byte(cmd.Parameters.Text)) {
		return protocol.OK(cmd.RequestID, cmd.Parameters.Text)
	}
	return protocol.OK(cmd.RequestID, protocol.RawJSON(cmd.Parameters.Text))
}

func unknown(_ context.Context, cmd protocol.Command) protocol.Response {
	return protocol.Error(cmd.RequestID, "unknown command: "+cmd.Name)
}
