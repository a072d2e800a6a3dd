// Package console turns raw console log lines into domain events and feeds
// command echoes and responses back to the pending-command table.
package console

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/reedfamily/rcelink/internal/command"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/game"
	"github.com/reedfamily/rcelink/internal/registry"
)

const (
	// MaxLinesPerFrame is the largest console payload treated as live
	// output. Bigger payloads are history replays sent on subscribe.
	MaxLinesPerFrame = 3

	// DebrisWindow suppresses repeated debris events per server.
	DebrisWindow = 6 * time.Minute

	debrisHeader     = "realm ;entity ;group ;parent ;name"
	populationHeader = `<slot:"name">`
	saveMarker       = "[ SAVE ]"
)

var (
	lineRe  = regexp.MustCompile(`(\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}):LOG:[^:]+: (.+)$`)
	echoRe  = regexp.MustCompile(`Executing console system command '([^']+)'`)
	quoteRe = regexp.MustCompile(`"(.*?)"`)
	rfRe    = regexp.MustCompile(`\[(\d+)\sMHz\]\sPosition:\s\(([-\d.]+),\s([-\d.]+),\s([-\d.]+)\),\sRange:\s(\d+)`)
)

// State is the per-server state the parser reads and updates.
type State interface {
	Snapshot(id string) (event.ServerRef, bool)
	UpdatePopulation(id string, players []string) (joined, left []string, first bool, ref event.ServerRef, ok bool)
	UpdateBroadcasts(id string, listed []int) (lost, received []int, ref event.ServerRef, ok bool)
	SetFlag(id, flag string, ttl time.Duration) bool
}

// Correlator matches command echoes and responses to pending commands.
type Correlator interface {
	Stamp(server, command, ts string) bool
	Resolve(server, ts, line string) (*command.Pending, bool)
}

// Publisher receives the parsed events.
type Publisher interface {
	Publish(server *event.ServerRef, p event.Payload)
}

type Parser struct {
	state    State
	commands Correlator
	bus      Publisher
	logger   *slog.Logger
}

func NewParser(state State, commands Correlator, bus Publisher, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{state: state, commands: commands, bus: bus, logger: logger}
}

// HandleMessage parses one consoleMessages payload for server id. Payloads
// of more than MaxLinesPerFrame lines are skipped.
func (p *Parser) HandleMessage(id, message string) {
	var lines []string
	for _, l := range strings.Split(message, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > MaxLinesPerFrame {
		p.logger.Debug("skipping console backlog", "server", id, "lines", len(lines))
		return
	}
	for _, l := range lines {
		p.ParseLine(id, l)
	}
}

// ParseLine classifies one raw console line. Lines without the console
// timestamp prefix are ignored.
func (p *Parser) ParseLine(id, raw string) {
	m := lineRe.FindStringSubmatch(raw)
	if m == nil {
		return
	}
	ts, text := m[1], strings.TrimSpace(m[2])
	if text == "" {
		return
	}
	ref, ok := p.state.Snapshot(id)
	if !ok {
		return
	}

	if em := echoRe.FindStringSubmatch(text); em != nil {
		p.logger.Debug("Executing Message Found", "server", id, "command", em[1])
		p.bus.Publish(&ref, event.ExecutingCommand{Command: em[1]})
		if p.commands.Stamp(id, em[1], ts) {
			p.bus.Publish(&ref, event.Message{Message: text})
			return
		}
	}

	if !strings.HasPrefix(text, saveMarker) {
		p.commands.Resolve(id, ts, text)
	}

	p.bus.Publish(&ref, event.Message{Message: text})

	switch {
	case p.debris(id, &ref, text):
	case p.population(id, text):
	case p.broadcasts(id, text):
	default:
		for _, match := range patterns {
			for _, ev := range match(text) {
				p.bus.Publish(&ref, ev)
			}
		}
	}
}

var debrisMarkers = []struct {
	marker string
	flag   string
	name   string
}{
	{"servergibs_bradley", registry.FlagBradley, game.BradleyDebris},
	{"servergibs_patrolhelicopter", registry.FlagHeli, game.HeliDebris},
}

func (p *Parser) debris(id string, ref *event.ServerRef, text string) bool {
	if !strings.HasPrefix(text, debrisHeader) {
		return false
	}
	for _, d := range debrisMarkers {
		if strings.Contains(text, d.marker) && p.state.SetFlag(id, d.flag, DebrisWindow) {
			p.bus.Publish(ref, event.EventStart{Event: d.name, Special: true})
			return true
		}
	}
	return false
}

func (p *Parser) population(id, text string) bool {
	if !strings.HasPrefix(text, populationHeader) {
		return false
	}
	quoted := quoteRe.FindAllStringSubmatch(text, -1)
	players := make([]string, 0, len(quoted))
	for _, q := range quoted[1:] {
		players = append(players, q[1])
	}

	joined, left, first, ref, ok := p.state.UpdatePopulation(id, players)
	if !ok {
		return true
	}
	if !first {
		for _, ign := range joined {
			p.bus.Publish(&ref, event.PlayerJoined{IGN: ign})
		}
		for _, ign := range left {
			p.bus.Publish(&ref, event.PlayerLeft{IGN: ign})
		}
	}
	p.bus.Publish(&ref, event.PlayerListUpdate{Players: players, Joined: joined, Left: left})
	p.logger.Debug("Refreshed Players", "server", id, "players", len(players))
	return true
}

type broadcast struct {
	coordinates []float64
	rng         int
}

func (p *Parser) broadcasts(id, text string) bool {
	matches := rfRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return false
	}
	listed := make([]int, 0, len(matches))
	details := make(map[int]broadcast, len(matches))
	for _, m := range matches {
		freq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		x, _ := strconv.ParseFloat(m[2], 64)
		y, _ := strconv.ParseFloat(m[3], 64)
		z, _ := strconv.ParseFloat(m[4], 64)
		rng, _ := strconv.Atoi(m[5])
		listed = append(listed, freq)
		details[freq] = broadcast{coordinates: []float64{x, y, z}, rng: rng}
	}

	lost, received, ref, ok := p.state.UpdateBroadcasts(id, listed)
	if !ok {
		return true
	}
	for _, f := range lost {
		p.bus.Publish(&ref, event.FrequencyLost{Frequency: f})
	}
	for _, f := range received {
		if name, ok := game.FrequencyEvents[f]; ok {
			p.bus.Publish(&ref, event.EventStart{Event: name})
		}
		b := details[f]
		p.bus.Publish(&ref, event.FrequencyReceived{Frequency: f, Coordinates: b.coordinates, Range: b.rng})
	}
	return true
}
