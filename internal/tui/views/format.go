package views

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/inboxsync/internal/store"
	"github.com/rivo/tview"
)

// displayName is the label of a conversation row.
func displayName(s store.Summary) string {
	name := s.DisplayName
	if name == "" {
		name = s.ID
	}
	if s.UnreadCount > 0 {
		name = fmt.Sprintf("* %s (%d)", name, s.UnreadCount)
	}
	return sanitize(name)
}

// messageLine renders one timeline entry with tview color tags.
func messageLine(m store.Message) string {
	sender := m.SenderID
	if m.Sender == store.SenderSelf {
		sender = "You"
	}

	var body string
	switch {
	case m.Status == store.StatusDeleted:
		body = "[::d](message deleted)[-:-:-]"
	case m.Content == "" && m.Kind != "" && m.Kind != store.KindText:
		body = "[::i]" + tview.Escape(fmt.Sprintf("[%s]", m.Kind)) + "[-:-:-]"
	default:
		body = tview.Escape(sanitize(m.Content))
	}

	var tag string
	switch m.Status {
	case store.StatusSending:
		tag = " [yellow]sending[-]"
	case store.StatusEdited:
		tag = " [::d]edited[-:-:-]"
	}
	return fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n", tview.Escape(sender), formatTimestamp(m.CreatedAt), tag, body)
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// sanitize drops codepoints tcell renders with the wrong cell width: skin
// tone modifiers, zero width joiners and variation selectors.
func sanitize(s string) string {
	if !strings.ContainsFunc(s, unsupportedRune) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unsupportedRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func unsupportedRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	}
	return false
}
