package console

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/game"
)

// matcher extracts the events a line announces. Matchers are independent;
// every one runs against every line that reaches the domain patterns.
type matcher func(text string) []event.Payload

var patterns = []matcher{
	matchKill,
	matchVendingName,
	matchQuickChat,
	matchSuicide,
	matchRespawn,
	matchZoneAdded,
	matchZoneRemoved,
	matchRoleAdd,
	matchItemSpawn,
	matchNoteEdit,
	matchTeamCreate,
	matchTeamJoin,
	matchTeamLeave,
	matchKitSpawn,
	matchKitGive,
	matchSpecialEventStart,
	matchSpecialEventEnd,
	matchWorldEvent,
}

var (
	vendingRe     = regexp.MustCompile(`\[VENDING MACHINE\] Player \[ ([^\]]+) \] changed name from \[ ([^\]]+) \] to \[ ([^\]]+) \]`)
	quickChatRe   = regexp.MustCompile(`(\[CHAT (TEAM|SERVER|LOCAL)\]) ([\w\s\-_]+) : (.+)`)
	zoneAddedRe   = regexp.MustCompile(`Successfully created zone \[([\w\d\s_-]+)\]`)
	zoneRemovedRe = regexp.MustCompile(`Successfully removed zone \[([\w\d\s_-]+)\]`)
	roleRe        = regexp.MustCompile(`(?i)\[?SERVER\]?\s*Added\s*\[([^\]]+)\](?::\[([^\]]+)\])?\s*(?:to\s*(?:Group\s*)?)?\[(\w+)\]`)
	itemSpawnRe   = regexp.MustCompile(`\bgiving ([\w\s_-]+) ([\d.]+) x ([\w\s-]+(?: [\w\s-]+)*)\b`)
	noteRe        = regexp.MustCompile(`\[NOTE PANEL\] Player \[ ([^\]]+) \] changed name from \[\s*([\s\S]*?)\s*\] to \[\s*([\s\S]*?)\s*\]`)
	teamCreateRe  = regexp.MustCompile(`\[([^\]]+)\] created a new team, ID: (\d+)`)
	teamJoinRe    = regexp.MustCompile(`\[([^\]]+)\] has joined \[([^\]]+)\]s team, ID: \[(\d+)\]`)
	teamLeaveRe   = regexp.MustCompile(`\[([^\]]+)\] has left \[([^\]]+)\]s team, ID: \[(\d+)\]`)
	kitSpawnRe    = regexp.MustCompile(`SERVER giving (.+?) kit (\w+)`)
	kitGiveRe     = regexp.MustCompile(`\[ServerVar\] ([\w\s_-]+) giving ([\w\s_-]+) kit ([\w\s_-]+)`)
	specialRe     = regexp.MustCompile(`Setting event as :(\w+)`)
)

var chatTypes = map[string]string{
	"[CHAT TEAM]":   event.ChatTeam,
	"[CHAT SERVER]": event.ChatServer,
	"[CHAT LOCAL]":  event.ChatLocal,
}

func one(p event.Payload) []event.Payload { return []event.Payload{p} }

func matchKill(text string) []event.Payload {
	victim, killer, ok := strings.Cut(text, " was killed by ")
	if !ok {
		return nil
	}
	return one(event.PlayerKill{
		Victim: game.KillInformation(strings.TrimSpace(victim)),
		Killer: game.KillInformation(strings.TrimSpace(killer)),
	})
}

func matchVendingName(text string) []event.Payload {
	m := vendingRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return one(event.VendingMachineName{IGN: m[1], OldName: m[2], NewName: m[3]})
}

func matchQuickChat(text string) []event.Payload {
	m := quickChatRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return one(event.QuickChat{Type: chatTypes[m[1]], IGN: m[3], Message: m[4]})
}

func matchSuicide(text string) []event.Payload {
	ign, _, ok := strings.Cut(text, " was suicide by Suicide")
	if !ok {
		return nil
	}
	return one(event.PlayerSuicide{IGN: ign})
}

func matchRespawn(text string) []event.Payload {
	if !strings.Contains(text, "has entered the game") {
		return nil
	}
	ign, _, _ := strings.Cut(text, " [")
	platform := event.PlatformPS
	if strings.Contains(text, "[xboxone]") {
		platform = event.PlatformXBL
	}
	return one(event.PlayerRespawned{IGN: ign, Platform: platform})
}

func matchZoneAdded(text string) []event.Payload {
	m := zoneAddedRe.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return nil
	}
	return one(event.CustomZoneAdded{Name: m[1]})
}

func matchZoneRemoved(text string) []event.Payload {
	m := zoneRemovedRe.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return nil
	}
	return one(event.CustomZoneRemoved{Name: m[1]})
}

func matchRoleAdd(text string) []event.Payload {
	m := roleRe.FindStringSubmatch(text)
	if m == nil || !strings.Contains(text, "Added") {
		return nil
	}
	return one(event.PlayerRoleAdd{IGN: m[1], Role: m[3]})
}

func matchItemSpawn(text string) []event.Payload {
	m := itemSpawnRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	qty, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil
	}
	return one(event.ItemSpawn{IGN: m[1], Item: m[3], Quantity: qty})
}

// matchNoteEdit keeps the first line of each side. Notes carry escaped
// newlines as a literal backslash-n.
func matchNoteEdit(text string) []event.Payload {
	m := noteRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	oldContent, _, _ := strings.Cut(strings.TrimSpace(m[2]), `\n`)
	newContent, _, _ := strings.Cut(strings.TrimSpace(m[3]), `\n`)
	if newContent == "" || oldContent == newContent {
		return nil
	}
	return one(event.NoteEdit{IGN: strings.TrimSpace(m[1]), OldContent: oldContent, NewContent: newContent})
}

func matchTeamCreate(text string) []event.Payload {
	m := teamCreateRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	id, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	return one(event.TeamCreate{Owner: m[1], ID: id})
}

func matchTeamJoin(text string) []event.Payload {
	m := teamJoinRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	id, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}
	return one(event.TeamJoin{IGN: m[1], Owner: m[2], ID: id})
}

func matchTeamLeave(text string) []event.Payload {
	m := teamLeaveRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	id, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}
	return one(event.TeamLeave{IGN: m[1], Owner: m[2], ID: id})
}

func matchKitSpawn(text string) []event.Payload {
	m := kitSpawnRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return one(event.KitSpawn{IGN: m[1], Kit: m[2]})
}

func matchKitGive(text string) []event.Payload {
	m := kitGiveRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return one(event.KitGive{Admin: m[1], IGN: m[2], Kit: m[3]})
}

func matchSpecialEventStart(text string) []event.Payload {
	m := specialRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return one(event.SpecialEventStart{Event: m[1]})
}

func matchSpecialEventEnd(text string) []event.Payload {
	if !strings.HasPrefix(text, "Event set as: none") {
		return nil
	}
	return one(event.SpecialEventEnd{})
}

func matchWorldEvent(text string) []event.Payload {
	if !strings.HasPrefix(text, "[event]") {
		return nil
	}
	var out []event.Payload
	for _, e := range game.MatchWorldEvents(text) {
		out = append(out, event.EventStart{Event: e.Name, Special: e.Special})
	}
	return out
}
