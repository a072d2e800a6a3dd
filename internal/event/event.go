// Package event defines the closed catalogue of domain events produced by
// the console client and the bus that fans them out to subscribers.
package event

import (
	"encoding/json"
	"time"

	"github.com/reedfamily/rcelink/internal/game"
)

// Kind tags an event variant.
type Kind string

const (
	KindMessage            Kind = "message"
	KindPlayerListUpdate   Kind = "player_list_update"
	KindQuickChat          Kind = "quick_chat"
	KindPlayerJoined       Kind = "player_joined"
	KindPlayerLeft         Kind = "player_left"
	KindPlayerSuicide      Kind = "player_suicide"
	KindPlayerRespawned    Kind = "player_respawned"
	KindPlayerRoleAdd      Kind = "player_role_add"
	KindNoteEdit           Kind = "note_edit"
	KindEventStart         Kind = "event_start"
	KindPlayerKill         Kind = "player_kill"
	KindItemSpawn          Kind = "item_spawn"
	KindVendingMachineName Kind = "vending_machine_name"
	KindKitSpawn           Kind = "kit_spawn"
	KindKitGive            Kind = "kit_give"
	KindTeamCreate         Kind = "team_create"
	KindTeamJoin           Kind = "team_join"
	KindTeamLeave          Kind = "team_leave"
	KindSpecialEventStart  Kind = "special_event_start"
	KindSpecialEventEnd    Kind = "special_event_end"
	KindExecutingCommand   Kind = "executing_command"
	KindError              Kind = "error"
	KindLog                Kind = "log"
	KindServiceState       Kind = "service_state"
	KindCustomZoneAdded    Kind = "custom_zone_added"
	KindCustomZoneRemoved  Kind = "custom_zone_removed"
	KindFrequencyReceived  Kind = "frequency_received"
	KindFrequencyLost      Kind = "frequency_lost"
)

// Kinds lists every variant in the catalogue.
var Kinds = []Kind{
	KindMessage, KindPlayerListUpdate, KindQuickChat, KindPlayerJoined,
	KindPlayerLeft, KindPlayerSuicide, KindPlayerRespawned, KindPlayerRoleAdd,
	KindNoteEdit, KindEventStart, KindPlayerKill, KindItemSpawn,
	KindVendingMachineName, KindKitSpawn, KindKitGive, KindTeamCreate,
	KindTeamJoin, KindTeamLeave, KindSpecialEventStart, KindSpecialEventEnd,
	KindExecutingCommand, KindError, KindLog, KindServiceState,
	KindCustomZoneAdded, KindCustomZoneRemoved, KindFrequencyReceived,
	KindFrequencyLost,
}

// ServerRef is a read-only copy of a managed server at the moment an event
// was produced.
type ServerRef struct {
	Identifier   string   `json:"identifier"`
	ServerID     int      `json:"server_id"`
	TrueServerID int      `json:"true_server_id"`
	Region       string   `json:"region"`
	State        string   `json:"state"`
	Ready        bool     `json:"ready"`
	Added        bool     `json:"added"`
	Players      []string `json:"players"`
	Frequencies  []int    `json:"frequencies"`
}

// Payload is implemented only by the payload types of this package.
type Payload interface {
	Kind() Kind
	payload()
}

// Event is one published domain event.
type Event struct {
	Server  *ServerRef `json:"server,omitempty"`
	Payload Payload    `json:"payload"`
	At      time.Time  `json:"at"`
}

// Kind returns the variant tag of the payload.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// ServerID returns the identifier of the server the event belongs to, or ""
// for process-wide events.
func (e Event) ServerID() string {
	if e.Server == nil {
		return ""
	}
	return e.Server.Identifier
}

type Message struct {
	Message string `json:"message"`
}

type PlayerListUpdate struct {
	Players []string `json:"players"`
	Joined  []string `json:"joined"`
	Left    []string `json:"left"`
}

// QuickChat channels.
const (
	ChatLocal  = "local"
	ChatServer = "server"
	ChatTeam   = "team"
)

type QuickChat struct {
	Type    string `json:"type"`
	IGN     string `json:"ign"`
	Message string `json:"message"`
}

type PlayerJoined struct {
	IGN string `json:"ign"`
}

type PlayerLeft struct {
	IGN string `json:"ign"`
}

type PlayerSuicide struct {
	IGN string `json:"ign"`
}

// Respawn platforms.
const (
	PlatformXBL = "XBL"
	PlatformPS  = "PS"
)

type PlayerRespawned struct {
	IGN      string `json:"ign"`
	Platform string `json:"platform"`
}

type PlayerRoleAdd struct {
	IGN  string `json:"ign"`
	Role string `json:"role"`
}

type NoteEdit struct {
	IGN        string `json:"ign"`
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
}

// EventStart announces a world event. Special marks seasonal and debris
// events.
type EventStart struct {
	Event   string `json:"event"`
	Special bool   `json:"special"`
}

type PlayerKill struct {
	Victim game.Killer `json:"victim"`
	Killer game.Killer `json:"killer"`
}

type ItemSpawn struct {
	IGN      string  `json:"ign"`
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
}

type VendingMachineName struct {
	IGN     string `json:"ign"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

type KitSpawn struct {
	IGN string `json:"ign"`
	Kit string `json:"kit"`
}

type KitGive struct {
	Admin string `json:"admin"`
	IGN   string `json:"ign"`
	Kit   string `json:"kit"`
}

type TeamCreate struct {
	Owner string `json:"owner"`
	ID    int    `json:"id"`
}

type TeamJoin struct {
	IGN   string `json:"ign"`
	Owner string `json:"owner"`
	ID    int    `json:"id"`
}

type TeamLeave struct {
	IGN   string `json:"ign"`
	Owner string `json:"owner"`
	ID    int    `json:"id"`
}

type SpecialEventStart struct {
	Event string `json:"event"`
}

type SpecialEventEnd struct{}

type ExecutingCommand struct {
	Command string `json:"command"`
}

type Error struct {
	Error string `json:"error"`
}

type Log struct {
	Level   string `json:"level"`
	Content string `json:"content"`
}

type ServiceState struct {
	State string `json:"state"`
}

type CustomZoneAdded struct {
	Name string `json:"name"`
}

type CustomZoneRemoved struct {
	Name string `json:"name"`
}

type FrequencyReceived struct {
	Frequency   int       `json:"frequency"`
	Coordinates []float64 `json:"coordinates"`
	Range       int       `json:"range"`
}

type FrequencyLost struct {
	Frequency int `json:"frequency"`
}

func (Message) Kind() Kind            { return KindMessage }
func (PlayerListUpdate) Kind() Kind   { return KindPlayerListUpdate }
func (QuickChat) Kind() Kind          { return KindQuickChat }
func (PlayerJoined) Kind() Kind       { return KindPlayerJoined }
func (PlayerLeft) Kind() Kind         { return KindPlayerLeft }
func (PlayerSuicide) Kind() Kind      { return KindPlayerSuicide }
func (PlayerRespawned) Kind() Kind    { return KindPlayerRespawned }
func (PlayerRoleAdd) Kind() Kind      { return KindPlayerRoleAdd }
func (NoteEdit) Kind() Kind           { return KindNoteEdit }
func (EventStart) Kind() Kind         { return KindEventStart }
func (PlayerKill) Kind() Kind         { return KindPlayerKill }
func (ItemSpawn) Kind() Kind          { return KindItemSpawn }
func (VendingMachineName) Kind() Kind { return KindVendingMachineName }
func (KitSpawn) Kind() Kind           { return KindKitSpawn }
func (KitGive) Kind() Kind            { return KindKitGive }
func (TeamCreate) Kind() Kind         { return KindTeamCreate }
func (TeamJoin) Kind() Kind           { return KindTeamJoin }
func (TeamLeave) Kind() Kind          { return KindTeamLeave }
func (SpecialEventStart) Kind() Kind  { return KindSpecialEventStart }
func (SpecialEventEnd) Kind() Kind    { return KindSpecialEventEnd }
func (ExecutingCommand) Kind() Kind   { return KindExecutingCommand }
func (Error) Kind() Kind              { return KindError }
func (Log) Kind() Kind                { return KindLog }
func (ServiceState) Kind() Kind       { return KindServiceState }
func (CustomZoneAdded) Kind() Kind    { return KindCustomZoneAdded }
func (CustomZoneRemoved) Kind() Kind  { return KindCustomZoneRemoved }
func (FrequencyReceived) Kind() Kind  { return KindFrequencyReceived }
func (FrequencyLost) Kind() Kind      { return KindFrequencyLost }

func (Message) payload()            {}
func (PlayerListUpdate) payload()   {}
func (QuickChat) payload()          {}
func (PlayerJoined) payload()       {}
func (PlayerLeft) payload()         {}
func (PlayerSuicide) payload()      {}
func (PlayerRespawned) payload()    {}
func (PlayerRoleAdd) payload()      {}
func (NoteEdit) payload()           {}
func (EventStart) payload()         {}
func (PlayerKill) payload()         {}
func (ItemSpawn) payload()          {}
func (VendingMachineName) payload() {}
func (KitSpawn) payload()           {}
func (KitGive) payload()            {}
func (TeamCreate) payload()         {}
func (TeamJoin) payload()           {}
func (TeamLeave) payload()          {}
func (SpecialEventStart) payload()  {}
func (SpecialEventEnd) payload()    {}
func (ExecutingCommand) payload()   {}
func (Error) payload()              {}
func (Log) payload()                {}
func (ServiceState) payload()       {}
func (CustomZoneAdded) payload()    {}
func (CustomZoneRemoved) payload()  {}
func (FrequencyReceived) payload()  {}
func (FrequencyLost) payload()      {}

// MarshalJSON adds the variant tag so consumers can decode the payload.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind    Kind       `json:"kind"`
		Server  *ServerRef `json:"server,omitempty"`
		Payload Payload    `json:"payload"`
		At      time.Time  `json:"at"`
	}
	return json.Marshal(wire{Kind: e.Kind(), Server: e.Server, Payload: e.Payload, At: e.At})
}
