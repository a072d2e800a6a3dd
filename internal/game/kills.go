package game

import (
	"regexp"
	"strings"
)

var numericRe = regexp.MustCompile(`^\d+(\.\d+)?$`)

// KillType classifies the source of a death.
type KillType string

const (
	KillPlayer  KillType = "player"
	KillNPC     KillType = "npc"
	KillEntity  KillType = "entity"
	KillNatural KillType = "natural"
)

// Killer describes one side of a kill line.
type Killer struct {
	ID   string   `json:"id"`
	Type KillType `json:"type"`
	Name string   `json:"name"`
}

// KillSource is one entry of the static kill-source table.
type KillSource struct {
	ID   string
	Name string
	Type KillType
}

// KillSources maps the lowercase identifiers the console prints for
// non-player killers to display names.
var KillSources = []KillSource{
	{"thirst", "Thirst", KillNatural},
	{"hunger", "Hunger", KillNatural},
	{"cold", "Cold", KillNatural},
	{"bleeding", "Bleeding", KillNatural},
	{"fall", "Fall", KillNatural},
	{"drowned", "Drowned", KillNatural},
	{"radiation", "Radiation", KillNatural},
	{"pee pee 9000", "Pee Pee 9000", KillNatural},

	{"bear", "Bear", KillNPC},
	{"boar", "Boar", KillNPC},
	{"wolf", "Wolf", KillNPC},
	{"patrolhelicopter", "Patrol Helicopter", KillNPC},
	{"bradleyapc", "Bradley APC", KillNPC},

	{"guntrap.deployed", "Shotgun Trap", KillEntity},
	{"autoturret_deployed", "Auto Turret", KillEntity},
	{"flameturret.deployed", "Flame Turret", KillEntity},
	{"teslacoil.deployed", "Tesla Coil", KillEntity},
	{"campfire", "Campfire", KillEntity},
	{"barricade.wood", "Wooden Barricade", KillEntity},
	{"barricade.metal", "Metal Barricade", KillEntity},
	{"barricade.woodwire", "Wooden Barricade", KillEntity},
	{"spikes.floor", "Floor Spikes", KillEntity},
	{"wall.external.high.stone", "High External Stone Wall", KillEntity},
	{"wall.external.high", "High External Wooden Wall", KillEntity},
	{"gates.external.high.wood", "High External Wooden Gate", KillEntity},
	{"gates.external.high.stone", "High External Stone Gate", KillEntity},
	{"sentry.bandit.static", "Bandit Sentry", KillEntity},
	{"sentry.scientist.static", "Scientist Sentry", KillEntity},
	{"landmine", "Landmine", KillEntity},
	{"rocket_crane_lift_trigger", "Crane Lift", KillEntity},
	{"cactus", "Cactus", KillEntity},
	{"rowboat", "Rowboat", KillEntity},
	{"fireball", "Fireball", KillEntity},
	{"oilfireballsmall", "Small Oil Fire", KillEntity},
	{"napalm", "Napalm", KillEntity},
	{"cargoshipdynamic1", "Cargo Ship", KillEntity},
	{"beartrap", "Bear Trap", KillEntity},
}

var killIndex = func() map[string]KillSource {
	m := make(map[string]KillSource, len(KillSources))
	for _, s := range KillSources {
		m[s.ID] = s
	}
	return m
}()

// KillInformation classifies a raw killer or victim identifier. It never
// fails: empty input is an unknown player, table hits keep the raw id with
// the table's name, bare numbers are scientists and anything else is taken
// to be a player name.
func KillInformation(id string) Killer {
	if id == "" {
		return Killer{ID: "unknown", Type: KillPlayer, Name: "Unknown"}
	}
	if s, ok := killIndex[strings.ToLower(id)]; ok {
		return Killer{ID: id, Type: s.Type, Name: s.Name}
	}
	if numericRe.MatchString(id) {
		return Killer{ID: id, Type: KillNPC, Name: "Scientist"}
	}
	return Killer{ID: id, Type: KillPlayer, Name: id}
}

// KillSourceIDsUnique reports whether every table entry has a distinct id.
func KillSourceIDsUnique() bool {
	return len(killIndex) == len(KillSources)
}
