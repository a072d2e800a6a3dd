package game

import "strings"

// WorldEvent is a named map event announced by an "[event]" console line.
type WorldEvent struct {
	Key     string
	Name    string
	Special bool
}

// WorldEvents lists the prefab keys recognised in "[event]" lines.
var WorldEvents = []WorldEvent{
	{"event_airdrop", "Airdrop", false},
	{"event_cargoship", "Cargo Ship", false},
	{"event_cargoheli", "Chinook", false},
	{"event_helicopter", "Patrol Helicopter", false},
	{"event_halloween", "Halloween", true},
	{"event_xmas", "Christmas", true},
	{"event_easter", "Easter", true},
}

// MatchWorldEvents returns every table entry whose key appears in line.
func MatchWorldEvents(line string) []WorldEvent {
	var out []WorldEvent
	for _, e := range WorldEvents {
		if strings.Contains(line, e.Key) {
			out = append(out, e)
		}
	}
	return out
}

// Frequencies broadcast by monuments while their event is running.
const (
	FrequencySmallOilRig = 4765
	FrequencyOilRig      = 4768
)

// FrequencyEvents maps well-known RF frequencies to the event they announce.
var FrequencyEvents = map[int]string{
	FrequencySmallOilRig: "Small Oil Rig",
	FrequencyOilRig:      "Oil Rig",
}

// Debris event names used for the polling-driven entity checks.
const (
	BradleyDebris = "Bradley APC Debris"
	HeliDebris    = "Patrol Helicopter Debris"
)
