package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
)

func TestDecodeExtractsTopLevelFields(t *testing.T) {
	cmd, err := Decode([]byte(`{"command":"open_order","requestId":"r-42","parameters":{"symbol":"EURUSD","volume":0.1,"nested":{"a":[1,2]}}}`))
	require.NoError(t, err)
	require.Equal(t, "open_order", cmd.Name)
	require.Equal(t, "r-42", cmd.RequestID)
	require.Equal(t, KindObject, cmd.Parameters.Kind)
	require.Equal(t, `{"symbol":"EURUSD","volume":0.1,"nested":{"a":[1,2]}}`, cmd.Parameters.Text)

	params, err := cmd.Params()
	require.NoError(t, err)
	symbol, ok := params.String("symbol")
	require.True(t, ok)
	require.Equal(t, "EURUSD", symbol)
	volume, ok := params.Float("volume")
	require.True(t, ok)
	require.InDelta(t, 0.1, volume, 1e-12)
	nested, ok := params.Raw("nested")
	require.True(t, ok)
	require.Equal(t, KindObject, nested.Kind)
	require.Equal(t, `{"a":[1,2]}`, nested.Text)
}

func TestDecodeMissingRequestIDIsEmpty(t *testing.T) {
	cmd, err := Decode([]byte(`{"command":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, "ping", cmd.Name)
	require.Empty(t, cmd.RequestID)

	params, err := cmd.Params()
	require.NoError(t, err)
	require.Empty(t, params)
}

func TestDecodeMissingCommandFails(t *testing.T) {
	for _, raw := range []string{
		`{"requestId":"r1"}`,
		`{"command":"","requestId":"r1"}`,
		`{"command":null}`,
		`not json`,
		`{"command":"ping"`,
		``,
	} {
		_, err := Decode([]byte(raw))
		require.Error(t, err, raw)
		require.Equal(t, errs.CodeInvalid, errs.CodeOf(err), raw)
	}
}

func TestEscapedQuotesDoNotTerminateStrings(t *testing.T) {
	fields, err := DecodeObject(`{"comment":"say \"hi\", then {leave}","n":3}`)
	require.NoError(t, err)
	comment, _ := fields.String("comment")
	require.Equal(t, `say "hi", then {leave}`, comment)
	n, ok := fields.Int("n")
	require.True(t, ok)
	require.Equal(t, int64(3), n)
}

func TestScalarsAreTrimmedAtTopLevelDelimiters(t *testing.T) {
	fields, err := DecodeObject("{ \"a\" :  12.5 ,\n \"b\": true , \"c\": null }")
	require.NoError(t, err)
	a, ok := fields.Float("a")
	require.True(t, ok)
	require.Equal(t, 12.5, a)
	b, ok := fields.Bool("b")
	require.True(t, ok)
	require.True(t, b)
	require.False(t, fields.Has("c"))
	_, ok = fields.String("c")
	require.False(t, ok)
}

func TestNumericAccessorsAcceptQuotedNumbers(t *testing.T) {
	fields, err := DecodeObject(`{"ticket":"123","volume":"0.5","whole":"5.0","frac":2.5}`)
	require.NoError(t, err)
	ticket, ok := fields.Int("ticket")
	require.True(t, ok)
	require.Equal(t, int64(123), ticket)
	whole, ok := fields.Int("whole")
	require.True(t, ok)
	require.Equal(t, int64(5), whole)
	_, ok = fields.Int("frac")
	require.False(t, ok)
	volume, ok := fields.Float("volume")
	require.True(t, ok)
	require.Equal(t, 0.5, volume)
}

func TestParamsRejectsNonObject(t *testing.T) {
	cmd, err := Decode([]byte(`{"command":"echo","parameters":[1,2]}`))
	require.NoError(t, err)
	_, err = cmd.Params()
	require.Error(t, err)
}

func TestSplitArray(t *testing.T) {
	items, err := SplitArray(`[ 14, "a,b", {"x":[1]}, 2.0 ]`)
	require.NoError(t, err)
	require.Equal(t, []string{"14", "a,b", `{"x":[1]}`, "2.0"}, items)

	items, err = SplitArray(`[]`)
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = SplitArray(`[1,,2]`)
	require.Error(t, err)
	_, err = SplitArray(`1,2`)
	require.Error(t, err)
}

func TestEncodeKeepsCorrelation(t *testing.T) {
	cmd, err := Decode([]byte(`{"command":"get_balance","requestId":"r1"}`))
	require.NoError(t, err)

	out, err := Encode(OK(cmd.RequestID, map[string]any{"balance": 10523.47}))
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok","requestId":"r1","responseToId":"r1","data":{"balance":10523.47}}`, string(out))

	reply, err := DecodeObject(string(out))
	require.NoError(t, err)
	id, _ := reply.String("requestId")
	to, _ := reply.String("responseToId")
	require.Equal(t, id, to)
}

func TestEncodeOmitsAbsentCorrelation(t *testing.T) {
	out, err := Encode(Error("", "missing command"))
	require.NoError(t, err)
	require.Equal(t, `{"status":"error","message":"missing command"}`, string(out))
}

func TestEncodeFieldOrder(t *testing.T) {
	out, err := Encode(Error("r9", "boom"))
	require.NoError(t, err)
	require.Equal(t, `{"status":"error","requestId":"r9","responseToId":"r9","message":"boom"}`, string(out))
}

func TestRawJSONPassesThrough(t *testing.T) {
	out, err := Encode(OK("e1", RawJSON(`{"a":[1,2],"b":"x"}`)))
	require.NoError(t, err)
	require.Equal(t, `{"status":"ok","requestId":"e1","responseToId":"e1","data":{"a":[1,2],"b":"x"}}`, string(out))
}

func TestFromErrorUsesMessage(t *testing.T) {
	resp := FromError("r2", errs.Platform("orders/open", 10016, "Invalid stops in the request"))
	require.Equal(t, StatusError, resp.Status)
	require.Equal(t, "Invalid stops in the request (code 10016)", resp.Message)

	resp = FromError("r3", errors.New("plain"))
	require.Equal(t, "plain", resp.Message)
}

func TestLooksLikeResponse(t *testing.T) {
	require.True(t, LooksLikeResponse([]byte(`{"status":"ok","responseToId":"p1","data":{"time":"x"}}`)))
	require.False(t, LooksLikeResponse([]byte(`{"command":"ping","requestId":"p1"}`)))
	require.False(t, LooksLikeResponse([]byte(`{"command":"ping","status":"ok"}`)))
	require.False(t, LooksLikeResponse([]byte(`garbage`)))
}

func TestCommandOfAndIsReplyShareOneDecode(t *testing.T) {
	fields, err := DecodeObject(`{"command":" get_price ","requestId":"r9","parameters":{"symbol":"EURUSD"}}`)
	require.NoError(t, err)
	require.False(t, IsReply(fields))
	cmd, err := CommandOf(fields)
	require.NoError(t, err)
	require.Equal(t, "get_price", cmd.Name)
	require.Equal(t, "r9", cmd.RequestID)

	fields, err = DecodeObject(`{"status":"ok","responseToId":"r9"}`)
	require.NoError(t, err)
	require.True(t, IsReply(fields))
	_, err = CommandOf(fields)
	require.Error(t, err)
}

func TestControlMessages(t *testing.T) {
	out, err := Marshal(Handshake{Identity: "MT5_EA", Version: "1.0", Account: 123})
	require.NoError(t, err)
	require.Equal(t, `{"identity":"MT5_EA","version":"1.0","account":123}`, string(out))

	out, err = Marshal(NewPing("abc"))
	require.NoError(t, err)
	require.Equal(t, `{"command":"ping","requestId":"abc"}`, string(out))

	require.Equal(t, "2024.03.01 09:05:07", FormatTime(time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC)))
}
