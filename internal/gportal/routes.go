// Package gportal talks to the G-Portal control plane: the GraphQL HTTP API
// used for lookups and console commands, and the frame types of the
// graphql-ws subscription socket.
package gportal

const (
	DefaultAPI       = "https://www.g-portal.com/ngpapi/"
	DefaultWebsocket = "wss://www.g-portal.com/ngpapi/"
	DefaultOrigin    = "https://www.g-portal.com"
)

// Routes are the control-plane endpoints. Zero fields fall back to the
// public G-Portal endpoints.
type Routes struct {
	API       string
	Websocket string
	Origin    string
}

func (r Routes) WithDefaults() Routes {
	if r.API == "" {
		r.API = DefaultAPI
	}
	if r.Websocket == "" {
		r.Websocket = DefaultWebsocket
	}
	if r.Origin == "" {
		r.Origin = DefaultOrigin
	}
	return r
}

type Region string

const (
	RegionUS Region = "US"
	RegionEU Region = "EU"
)

func (r Region) Valid() bool { return r == RegionUS || r == RegionEU }

// State is a service state as reported by the control plane.
type State string

const (
	StateUnknown     State = "UNKNOWN"
	StateStopping    State = "STOPPING"
	StateMaintenance State = "MAINTENANCE"
	StateUpdating    State = "UPDATING"
	StateStopped     State = "STOPPED"
	StateStarting    State = "STARTING"
	StateRunning     State = "RUNNING"
	StateSuspended   State = "SUSPENDED"
)
