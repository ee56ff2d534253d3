package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/inboxsync/internal/status"
	"github.com/rivo/tview"
)

// StatusBar shows the profile, push channel state, unread total and hints.
type StatusBar struct {
	*tview.TextView
	profile string
	state   status.State
	live    bool
	unread  int
	hints   []string
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(profile string) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	sb := &StatusBar{TextView: tv, profile: profile, state: status.Idle}
	sb.render()
	return sb
}

// SetChannel updates the push channel indicator.
func (sb *StatusBar) SetChannel(state status.State, live bool) {
	sb.state, sb.live = state, live
	sb.render()
}

// SetUnread updates the unread total.
func (sb *StatusBar) SetUnread(n int) {
	sb.unread = n
	sb.render()
}

// SetHints updates the key hints of the current page.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message. An empty string clears it.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	color := "red"
	switch {
	case sb.live:
		color = "green"
	case sb.state == status.Connecting || sb.state == status.Reconnecting:
		color = "yellow"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | unread %d", sb.profile, color, sb.state, sb.unread)
	if len(sb.hints) > 0 {
		line += " | " + strings.Join(sb.hints, " ")
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}
	_, _ = fmt.Fprint(sb, line)
}
