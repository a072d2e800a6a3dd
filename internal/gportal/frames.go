package gportal

import "encoding/json"

// Subprotocol is negotiated on the subscription socket.
const Subprotocol = "graphql-ws"

type FrameType string

const (
	FrameInit      FrameType = "connection_init"
	FrameStart     FrameType = "start"
	FrameKeepAlive FrameType = "ka"
	FrameAck       FrameType = "connection_ack"
	FrameData      FrameType = "data"
	FrameError     FrameType = "error"
)

// Frame is one graphql-ws message. Payload stays raw until the frame type
// is known.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type initPayload struct {
	Authorization string `json:"authorization"`
}

type startPayload struct {
	Variables     map[string]any `json:"variables"`
	Extensions    map[string]any `json:"extensions"`
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
}

func newFrame(typ FrameType, id string, payload any) Frame {
	f := Frame{Type: typ, ID: id}
	if payload != nil {
		// Payloads are plain structs of strings and numbers.
		f.Payload, _ = json.Marshal(payload)
	}
	return f
}

// InitFrame authenticates the socket with an access token.
func InitFrame(accessToken string) Frame {
	return newFrame(FrameInit, "", initPayload{Authorization: accessToken})
}

func KeepAliveFrame() Frame {
	return Frame{Type: FrameKeepAlive}
}

// ConsoleMessagesFrame subscribes to the console stream of a server. The
// frame id is the caller's identifier for the server; data frames for the
// subscription carry it back.
func ConsoleMessagesFrame(id string, sid int, region Region) Frame {
	return startFrame(id, "consoleMessages", consoleMessagesSubscription, sid, region)
}

// ServiceStateFrame subscribes to service-state changes of a server.
func ServiceStateFrame(id string, sid int, region Region) Frame {
	return startFrame(id, "serviceState", serviceStateSubscription, sid, region)
}

func startFrame(id, op, query string, sid int, region Region) Frame {
	return newFrame(FrameStart, id, startPayload{
		Variables:     map[string]any{"sid": sid, "region": region},
		Extensions:    map[string]any{},
		OperationName: op,
		Query:         query,
	})
}

// DataPayload is the payload of a data frame.
type DataPayload struct {
	Data struct {
		ConsoleMessages *ConsoleMessage   `json:"consoleMessages"`
		ServiceState    *ServiceStateData `json:"serviceState"`
	} `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

type ConsoleMessage struct {
	Stream  string `json:"stream"`
	Message string `json:"message"`
}

type ServiceStateData struct {
	State State `json:"state"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}
