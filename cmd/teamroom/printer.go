package main

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/session"
)

// printer serialises terminal output from the command loop, the watcher
// and manager notices.
type printer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (p *printer) linef(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
	_ = p.w.Flush()
}

func (p *printer) notice(n session.Notice) {
	if n.Detail == "" {
		p.linef("* %s", n.Title)
		return
	}
	p.linef("* %s: %s", n.Title, n.Detail)
}

func (p *printer) room(v session.View) {
	if v.Room == nil {
		p.linef("Not in a room (%s).", v.State)
		return
	}
	p.linef("Room %s, %d members:", v.Room.ID, len(v.Room.Members))
	for _, m := range v.Room.Members {
		tag := ""
		if v.Room.IsLeader(m.ID) {
			tag = " (leader)"
		}
		p.linef("  %s @%s %s%s", m.Name, m.Username, m.Role, tag)
	}
}

func (p *printer) history(entries []domain.HistoryEntry) {
	if len(entries) == 0 {
		p.linef("No past rooms.")
		return
	}
	for _, e := range entries {
		p.linef("  %s  %s  %s", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.RoomID, e.Summary)
	}
}
