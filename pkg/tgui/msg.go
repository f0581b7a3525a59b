package tgui

import (
	"context"
	"strings"
	"unicode/utf8"

	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
)

// Sender is the part of a chat adapter a Message needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Message is a rendered payload: text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions

	// More are follow-up messages sent after Text, each valid HTML on its own.
	More []string
}

// Parts returns Text followed by the non-blank follow-ups.
func (m Message) Parts() []string {
	out := make([]string, 0, 1+len(m.More))
	if strings.TrimSpace(m.Text) != "" {
		out = append(out, m.Text)
	}
	for _, t := range m.More {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

// Send sends every part in order and stops at the first error.
// Reply markup is only attached to the first part.
func (m Message) Send(ctx context.Context, s Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	opt := m.Opt
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	var first kit.MessageRef
	for i, t := range m.Parts() {
		o := opt
		if i > 0 && opt.ReplyMarkupAdapter != nil {
			cp := *opt
			cp.ReplyMarkupAdapter = nil
			o = &cp
		}
		ref, err := s.SendText(ctx, to, t, o)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = ref
		}
	}
	return first, nil
}

// Builder assembles an HTML message line by line.
// Defaults: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	silent bool
	lines  []string
	more   []string
}

func New() *Builder { return &Builder{} }

// Silent delivers the message without a notification sound.
func (b *Builder) Silent(v bool) *Builder {
	b.silent = v
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e != "" {
		return b.HTML(Esc(e) + " " + B(t))
	}
	return b.HTML(B(t))
}

// Line adds one escaped line; a blank string adds an empty line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	return b.HTML(Esc(s))
}

// HTML adds one line of already-safe HTML.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds a "• key: value" line with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	return b.HTML("• " + B(key) + ": " + Esc(strings.TrimSpace(value)))
}

// Pre adds a preformatted block. For long content use PreMulti.
func (b *Builder) Pre(code string) *Builder {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return b
	}
	return b.HTML(Pre(code))
}

const (
	defaultChunkLimit  = 3500
	preWrapperOverhead = len("<pre><code></code></pre>")
)

// PreMulti renders a long pre block as several messages, each wrapped in its
// own <pre> so every Telegram message has balanced tags. Chunks prefer to end
// on a newline.
func (b *Builder) PreMulti(code string, chunkLimit ...int) *Builder {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return b
	}
	limit := defaultChunkLimit
	if len(chunkLimit) > 0 && chunkLimit[0] > 0 {
		limit = chunkLimit[0]
	}
	for i, chunk := range splitRunes(code, max(limit-preWrapperOverhead, 128)) {
		if i == 0 {
			b.lines = append(b.lines, Pre(chunk).String())
		} else {
			b.more = append(b.more, Pre(chunk).String())
		}
	}
	return b
}

// splitRunes cuts s into pieces of at most eff runes, breaking at the last
// newline in the window when that newline is past a third of it.
func splitRunes(s string, eff int) []string {
	var out []string
	start := 0
	for start < len(s) {
		runes, end := 0, start
		lastNL, lastNLRunes := -1, 0
		for end < len(s) && runes < eff {
			r, size := utf8.DecodeRuneInString(s[end:])
			if r == '\n' {
				lastNL, lastNLRunes = end+size, runes+1
			}
			runes++
			end += size
		}
		if end < len(s) && lastNL != -1 && lastNLRunes >= eff/3 {
			end = lastNL
		}
		out = append(out, strings.TrimRight(s[start:end], "\n"))
		start = end
		for start < len(s) && s[start] == '\n' {
			start++
		}
	}
	return out
}

// Build produces a ready-to-send Message.
func (b *Builder) Build() Message {
	return Message{
		Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"),
		Opt:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Silent: b.silent},
		More: append([]string(nil), b.more...),
	}
}
