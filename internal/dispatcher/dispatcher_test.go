package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
)

func fixedClock() time.Time {
	return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
}

func encode(t *testing.T, resp protocol.Response) string {
	t.Helper()
	out, err := protocol.Encode(resp)
	require.NoError(t, err)
	return string(out)
}

func TestDispatchUnknownCommandEchoesRequestID(t *testing.T) {
	d := New()
	for _, id := range []string{"r1", "abc-123", ""} {
		raw := `{"command":"does_not_exist","requestId":"` + id + `"}`
		resp := d.Dispatch(context.Background(), []byte(raw))
		require.Equal(t, protocol.StatusError, resp.Status)
		require.Equal(t, id, resp.RequestID)
		require.Equal(t, id, resp.ResponseToID)
		require.Contains(t, resp.Message, "does_not_exist")
	}
}

func TestDispatchDecodeFailureIsUncorrelated(t *testing.T) {
	d := New()
	resp := d.Dispatch(context.Background(), []byte(`{"requestId":"r1"}`))
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Empty(t, resp.RequestID)
	require.Empty(t, resp.ResponseToID)
	require.NotContains(t, encode(t, resp), "responseToId")
}

func TestPingReturnsServerTime(t *testing.T) {
	d := New(WithClock(fixedClock))
	resp := d.Dispatch(context.Background(), []byte(`{"command":"ping","requestId":"p1"}`))
	require.JSONEq(t, `{"status":"ok","requestId":"p1","responseToId":"p1","data":{"time":"2024.05.06 07:08:09"}}`, encode(t, resp))
}

func TestEchoReturnsParametersUnchanged(t *testing.T) {
	d := New()
	resp := d.Dispatch(context.Background(), []byte(`{"command":"echo","requestId":"e1","parameters":{"msg":"hi","n":[1,2,{"x":true}]}}`))
	require.Equal(t, `{"status":"ok","requestId":"e1","responseToId":"e1","data":{"msg":"hi","n":[1,2,{"x":true}]}}`, encode(t, resp))

	resp = d.Dispatch(context.Background(), []byte(`{"command":"echo","requestId":"e2"}`))
	require.Equal(t, `{"status":"ok","requestId":"e2","responseToId":"e2","data":{}}`, encode(t, resp))
}

func TestEchoReturnsBareTokenAsText(t *testing.T) {
	d := New()
	resp := d.Dispatch(context.Background(), []byte(`{"command":"echo","requestId":"e3","parameters":abc}`))
	require.Equal(t, `{"status":"ok","requestId":"e3","responseToId":"e3","data":"abc"}`, encode(t, resp))

	resp = d.Dispatch(context.Background(), []byte(`{"command":"echo","requestId":"e4","parameters":42}`))
	require.Equal(t, `{"status":"ok","requestId":"e4","responseToId":"e4","data":42}`, encode(t, resp))
}

func TestServeReportsCommandName(t *testing.T) {
	d := New(WithClock(fixedClock))
	ctx := context.Background()

	res := d.Serve(ctx, []byte(`{"command":"ping","requestId":"p1"}`))
	require.False(t, res.Reply)
	require.Equal(t, "ping", res.Command)
	require.Equal(t, protocol.StatusOK, res.Response.Status)

	res = d.Serve(ctx, []byte(`{"command":"nope","requestId":"n1"}`))
	require.Equal(t, "nope", res.Command)
	require.Equal(t, protocol.StatusError, res.Response.Status)

	res = d.Serve(ctx, []byte(`not json`))
	require.False(t, res.Reply)
	require.Empty(t, res.Command)
	require.Equal(t, protocol.StatusError, res.Response.Status)

	res = d.Serve(ctx, []byte(`{"status":"ok","responseToId":"p1","data":{}}`))
	require.True(t, res.Reply)
	require.Empty(t, res.Command)
}

func TestRegisterIsUpsert(t *testing.T) {
	d := New()
	d.Register("get_balance", HandlerFunc(func(_ context.Context, cmd protocol.Command) protocol.Response {
		return protocol.OK(cmd.RequestID, "first")
	}))
	d.Register("get_balance", HandlerFunc(func(_ context.Context, cmd protocol.Command) protocol.Response {
		return protocol.OK(cmd.RequestID, "second")
	}))
	resp := d.Dispatch(context.Background(), []byte(`{"command":"get_balance","requestId":"r1"}`))
	require.Equal(t, "second", resp.Data)
	require.Equal(t, []string{"echo", "get_balance", "ping"}, d.Names())
}

func TestReplyAdapter(t *testing.T) {
	d := New()
	d.Register("double", Reply(func(_ context.Context, req Request) (any, error) {
		require.Equal(t, "double", req.Name)
		n, ok := req.Params.Float("n")
		if !ok {
			return nil, errs.Invalid("double", "n is required")
		}
		return map[string]float64{"value": n * 2}, nil
	}))

	resp := d.Dispatch(context.Background(), []byte(`{"command":"double","requestId":"d1","parameters":{"n":2.5}}`))
	require.JSONEq(t, `{"status":"ok","requestId":"d1","responseToId":"d1","data":{"value":5}}`, encode(t, resp))

	resp = d.Dispatch(context.Background(), []byte(`{"command":"double","requestId":"d2","parameters":{}}`))
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Equal(t, "d2", resp.ResponseToID)
	require.Equal(t, "n is required", resp.Message)

	resp = d.Dispatch(context.Background(), []byte(`{"command":"double","requestId":"d3","parameters":"oops"}`))
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Equal(t, "d3", resp.ResponseToID)
}

func TestHandlerPanicIsContained(t *testing.T) {
	d := New()
	d.Register("boom", HandlerFunc(func(context.Context, protocol.Command) protocol.Response {
		panic("kaboom")
	}))
	resp := d.Dispatch(context.Background(), []byte(`{"command":"boom","requestId":"b1"}`))
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Equal(t, "b1", resp.ResponseToID)

	resp = d.Dispatch(context.Background(), []byte(`{"command":"ping","requestId":"p2"}`))
	require.Equal(t, protocol.StatusOK, resp.Status)
}
