package views

import (
	"fmt"

	"github.com/matheus3301/inboxsync/internal/store"
	"github.com/rivo/tview"
)

// Timeline displays the messages of one conversation, oldest first.
type Timeline struct {
	*tview.TextView
}

// NewTimeline creates an empty timeline view.
func NewTimeline() *Timeline {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	return &Timeline{TextView: tv}
}

// SetTitleName shows the conversation name in the border.
func (tl *Timeline) SetTitleName(name string) {
	tl.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitize(name))))
}

// Update redraws the messages. hasMore adds a hint that older pages exist.
func (tl *Timeline) Update(msgs []store.Message, hasMore, loading bool) {
	tl.Clear()
	switch {
	case loading:
		_, _ = fmt.Fprint(tl, "[::d]loading...[-:-:-]\n\n")
	case hasMore:
		_, _ = fmt.Fprint(tl, "[::d]press o for older messages[-:-:-]\n\n")
	}
	for _, m := range msgs {
		_, _ = fmt.Fprintln(tl, messageLine(m))
	}
	tl.ScrollToEnd()
}
