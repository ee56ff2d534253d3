package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/inboxsync/internal/store"
	"github.com/rivo/tview"
)

// Inbox is the conversation summary table.
type Inbox struct {
	*tview.Table
	summaries []store.Summary
}

// NewInbox creates an empty inbox table.
func NewInbox() *Inbox {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Inbox ")
	return &Inbox{Table: table}
}

// Update redraws the table from the sorted summaries, keeping the
// selection on the same conversation when it is still listed.
func (in *Inbox) Update(summaries []store.Summary) {
	selected := in.Selected()
	in.summaries = summaries
	in.Clear()

	header := tview.Styles.SecondaryTextColor
	in.SetCell(0, 0, tview.NewTableCell(" ").SetSelectable(false))
	in.SetCell(0, 1, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(header))
	in.SetCell(0, 2, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(header))
	in.SetCell(0, 3, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(header))

	for i, s := range summaries {
		row := i + 1
		presence := tview.NewTableCell(" ○")
		if s.IsOnline {
			presence = tview.NewTableCell(" ●").SetTextColor(tcell.ColorGreen)
		}
		name := tview.NewTableCell(" " + displayName(s)).SetMaxWidth(30).SetExpansion(1)
		if s.Priority() == store.PriorityHigh {
			name.SetAttributes(tcell.AttrBold)
		}
		in.SetCell(row, 0, presence)
		in.SetCell(row, 1, name)
		in.SetCell(row, 2, tview.NewTableCell(" "+sanitize(s.LastMessagePreview)).SetMaxWidth(40).SetExpansion(2))
		in.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(s.LastMessageAt)).SetMaxWidth(12))
		if s.ID == selected {
			in.Select(row, 0)
		}
	}
}

// Selected returns the id of the highlighted conversation.
func (in *Inbox) Selected() string {
	row, _ := in.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(in.summaries) {
		return in.summaries[idx].ID
	}
	return ""
}
