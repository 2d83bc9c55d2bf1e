package protocol

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
)

// TimeLayout formats timestamps carried in envelopes.
const TimeLayout = "2006.01.02 15:04:05"

// Status is the outcome marker of a response envelope.
type Status string

const (
	// StatusOK marks a successful response.
	StatusOK Status = "ok"
	// StatusError marks a failed response carrying a message.
	StatusError Status = "error"
)

// Command is a decoded inbound command envelope.
type Command struct {
	Name       string
	RequestID  string
	Parameters Value
}

// Params extracts the command parameters. Absent or null parameters yield
// an empty set.
func (c Command) Params() (Fields, error) {
	switch {
	case c.Parameters.IsNull():
		return Fields{}, nil
	case c.Parameters.Kind == KindObject:
		return DecodeObject(c.Parameters.Text)
	default:
		return nil, errs.Invalid("protocol/params", "parameters must be an object, got %s", c.Parameters.Kind)
	}
}

// Decode extracts a command envelope. A missing command name is a decode
// failure; a missing requestId decodes as the empty string.
func Decode(raw []byte) (Command, error) {
	fields, err := DecodeObject(string(raw))
	if err != nil {
		return Command{}, err
	}
	return CommandOf(fields)
}

// CommandOf builds a command from an already decoded envelope.
func CommandOf(fields Fields) (Command, error) {
	name, _ := fields.String("command")
	name = strings.TrimSpace(name)
	if name == "" {
		return Command{}, errs.Invalid("protocol/decode", "missing command")
	}
	requestID, _ := fields.String("requestId")
	return Command{
		Name:       name,
		RequestID:  requestID,
		Parameters: fields["parameters"],
	}, nil
}

// LooksLikeResponse reports whether a document is a reply rather than a
// command: it carries a status and no command.
func LooksLikeResponse(raw []byte) bool {
	fields, err := DecodeObject(string(raw))
	if err != nil {
		return false
	}
	return IsReply(fields)
}

// IsReply is LooksLikeResponse over an already decoded envelope.
func IsReply(fields Fields) bool {
	return fields.Has("status") && !fields.Has("command")
}

// Response is an outbound envelope. Field order on the wire is fixed by the
// struct layout.
type Response struct {
	Status       Status `json:"status"`
	RequestID    string `json:"requestId,omitempty"`
	ResponseToID string `json:"responseToId,omitempty"`
	Data         any    `json:"data,omitempty"`
	Message      string `json:"message,omitempty"`
}

// OK builds a success response correlated to requestID.
func OK(requestID string, data any) Response {
	return Response{
		Status:       StatusOK,
		RequestID:    requestID,
		ResponseToID: requestID,
		Data:         data,
	}
}

// Error builds an error response correlated to requestID.
func Error(requestID, message string) Response {
	return Response{
		Status:       StatusError,
		RequestID:    requestID,
		ResponseToID: requestID,
		Message:      message,
	}
}

// FromError builds an error response from err using its caller-facing message.
func FromError(requestID string, err error) Response {
	return Error(requestID, errs.MessageOf(err))
}

// Encode renders a response envelope.
func Encode(resp Response) ([]byte, error) {
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, errs.New("protocol/encode", errs.CodeInternal, errs.WithMessage("encode response"), errs.WithCause(err))
	}
	return out, nil
}

// RawJSON wraps verbatim document text so it is emitted unchanged.
func RawJSON(text string) json.RawMessage {
	return json.RawMessage(text)
}

// Handshake is the identification message sent after every connect.
type Handshake struct {
	Identity string `json:"identity"`
	Version  string `json:"version"`
	Account  int64  `json:"account"`
}

// Ping is the keepalive command sent while connected.
type Ping struct {
	Command   string `json:"command"`
	RequestID string `json:"requestId"`
}

// NewPing returns a keepalive command with the given request id.
func NewPing(requestID string) Ping {
	return Ping{Command: "ping", RequestID: requestID}
}

// Marshal renders any outbound control message.
func Marshal(v any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, errs.New("protocol/encode", errs.CodeInternal, errs.WithCause(err))
	}
	return out, nil
}

// FormatTime renders t in the envelope time layout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}
