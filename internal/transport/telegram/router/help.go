package router

import (
	"sort"
	"strings"

	"github.com/natsukagami/youmubot-sub000/pkg/tgui"
)

// helpText renders help in Telegram HTML for the command path (or the top
// level when path is empty).
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root)
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.TrimPrefix(strings.ToLower(p), "/")
		if n, ok := cur.child(p); ok {
			cur = n
			full = append(full, n.name)
			continue
		}
		if leaf, ok := alias[p]; ok && leaf.cmd != nil && len(full) == 0 {
			cur = leaf
			full = splitRoute(leaf.cmd.Route)
			break
		}
		return tgui.New().
			Title("❓", "Unknown command").
			HTML(tgui.Sprintf("Type %s for the list of commands.", tgui.Code("/help"))).
			Build().Text
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	type row struct {
		name, desc string
		lock       bool
	}
	var rows []row
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: summarizeNodeDesc(n), lock: nodeIsOwnerOnly(n)})
	}
	// Owner-only commands go last.
	sort.SliceStable(rows, func(i, j int) bool { return !rows[i].lock && rows[j].lock })

	b := tgui.New().
		Title("📚", "Commands").
		HTML(tgui.Sprintf("Type %s for details.", tgui.Code("/help <cmd>"))).
		Blank()
	for _, r := range rows {
		line := tgui.Code("/" + r.name)
		if r.lock {
			line = tgui.JoinH(" ", "🔒", line)
		}
		if r.desc != "" {
			line = tgui.JoinH(" - ", line, tgui.Esc(r.desc))
		}
		b.HTML("• " + line)
	}
	return b.Build().Text
}

func helpNode(cur *cmdNode, full []string) string {
	b := tgui.New().Title("📚", "/"+strings.Join(full, " "))

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			b.Line(d)
		}
		switch c.Access {
		case AccessOwnerOnly:
			b.HTML(tgui.JoinH(" ", "🔒", tgui.I("Owners only")))
		case AccessGroupOnly:
			b.HTML(tgui.I("Groups only"))
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			b.Blank().HTML(tgui.B("Usage")).HTML(tgui.Code(u))
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			b.Blank().HTML(tgui.B("Shortcuts"))
			for _, s := range short {
				b.HTML("• " + tgui.Code("/"+s))
			}
		}
	} else {
		b.Line("Command group.")
	}

	if len(cur.children) > 0 {
		b.Blank().HTML(tgui.B("Subcommands"))
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			line := tgui.Code("/" + strings.Join(append(append([]string(nil), full...), name), " "))
			if d := summarizeNodeDesc(n); d != "" {
				line = tgui.JoinH(" - ", line, tgui.Esc(d))
			}
			b.HTML("• " + line)
		}
	}
	return b.Build().Text
}

func summarizeNodeDesc(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	s := strings.Join(kids[:min(3, len(kids))], ", ")
	if len(kids) > 3 {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeIsOwnerOnly reports whether n and every command below it is owner-only.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n.cmd != nil && n.cmd.Access != AccessOwnerOnly {
		return false
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return n.cmd != nil || len(n.children) > 0
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	route := splitRoute(c.Route)
	if len(route) > 1 {
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			add(menu)
		}
	}
	for _, a := range c.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}
