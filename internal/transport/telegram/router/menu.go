package router

import (
	"sort"
	"strings"

	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
)

const (
	maxMenuCommands = 100
	maxCommandLen   = 32
	maxMenuDescLen  = 256
)

// sanitizeTelegramCommand converts a route or alias into a Telegram command
// name ([a-z0-9_]{1,32}, starting with a letter). It returns "" if nothing
// usable is left.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', r == ' ', r == '\t':
			pendingSep = true
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a route into one command name:
// ["watch","stop"] -> "watch_stop".
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists top-level commands first, then /a_b
// shortcuts for nested ones.
func buildTelegramMenuCommands(root *cmdNode, leafCmds []Command) []kit.BotCommand {
	type entry struct {
		desc string
		prio int
	}
	byCmd := map[string]entry{}
	add := func(cmd, desc string, prio int) {
		cmd = sanitizeTelegramCommand(cmd)
		if cmd == "" {
			return
		}
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if len(desc) > maxMenuDescLen {
			desc = desc[:maxMenuDescLen]
		}
		if cur, ok := byCmd[cmd]; ok && cur.prio <= prio {
			return
		}
		byCmd[cmd] = entry{desc: desc, prio: prio}
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		add(name, summarizeNodeDesc(n), 0)
	}
	for _, c := range leafCmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			desc := c.Description
			if desc == "" {
				desc = strings.Join(route, " ")
			}
			add(menu, desc, 1)
		}
	}

	names := make([]string, 0, len(byCmd))
	for k := range byCmd {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := byCmd[names[i]], byCmd[names[j]]
		if a.prio != b.prio {
			return a.prio < b.prio
		}
		return names[i] < names[j]
	})
	if len(names) > maxMenuCommands {
		names = names[:maxMenuCommands]
	}

	out := make([]kit.BotCommand, 0, len(names))
	for _, n := range names {
		out = append(out, kit.BotCommand{Command: n, Description: byCmd[n].desc})
	}
	return out
}
