package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/chatlog/internal/session"
)

const authorWidth = 8

type renderer struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

// Render prints view when it differs from the last printed frame.
func (r *renderer) Render(view session.View) {
	frame := formatView(view)
	r.mu.Lock()
	defer r.mu.Unlock()
	if frame == r.last {
		return
	}
	r.last = frame
	fmt.Fprint(r.out, frame)
}

func (r *renderer) Notice(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "! %s\n", message)
}

func formatView(view session.View) string {
	var builder strings.Builder
	builder.WriteString("----")
	if view.PingGrade != session.PingUnknown {
		fmt.Fprintf(&builder, " ping %dms (%s)", view.Ping.Milliseconds(), view.PingGrade)
	}
	builder.WriteString("\n")
	if view.Pinned != nil {
		fmt.Fprintf(&builder, "pinned: %s\n", view.Pinned.Text)
	}
	for index, entry := range view.Entries {
		fmt.Fprintf(&builder, "%2d %5s %-*s %s%s\n",
			index+1, entry.Time, authorWidth, formatAuthor(entry), entry.Text, statusMarker(entry))
	}
	return builder.String()
}

func formatAuthor(entry session.Entry) string {
	switch {
	case entry.IsWarning():
		return "notice"
	case entry.Own:
		return "me"
	case entry.IsBot():
		return "bot"
	case len(entry.Author) > authorWidth:
		return entry.Author[:authorWidth]
	default:
		return entry.Author
	}
}

func statusMarker(entry session.Entry) string {
	switch entry.Status {
	case session.StatusSending:
		return " ..."
	case session.StatusFailed:
		return " !"
	default:
		return ""
	}
}
