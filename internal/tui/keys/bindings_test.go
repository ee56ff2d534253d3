package keys

import (
	"slices"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestHandleEventPrefersPage(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'r', Handler: func() { got = append(got, "global r") }})
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "global q") }})
	r.AddPage("timeline", &Action{Key: tcell.KeyRune, Rune: 'r', Handler: func() { got = append(got, "page r") }})

	r.HandleEvent("timeline", tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone))
	r.HandleEvent("inbox", tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone))
	r.HandleEvent("timeline", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone))
	if r.HandleEvent("timeline", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key reported as handled")
	}

	want := []string{"page r", "global r", "global q"}
	if !slices.Equal(got, want) {
		t.Errorf("handled = %v, want %v", got, want)
	}
}

func TestMatchesSpecialKeys(t *testing.T) {
	a := &Action{Key: tcell.KeyEnter}
	if !a.Matches(tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone)) {
		t.Error("Enter did not match")
	}
	if a.Matches(tcell.NewEventKey(tcell.KeyRune, 'e', tcell.ModNone)) {
		t.Error("rune matched a special key binding")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Description: "q:quit", Visible: true})
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: '?', Description: "hidden"})
	r.AddPage("timeline", &Action{Key: tcell.KeyRune, Rune: 'o', Description: "o:older", Visible: true})
	r.AddPage("timeline", &Action{Key: tcell.KeyRune, Rune: 'i', Description: "i:compose", Visible: true})

	want := []string{"o:older", "i:compose", "q:quit"}
	if got := r.Hints("timeline"); !slices.Equal(got, want) {
		t.Errorf("Hints(timeline) = %v, want %v", got, want)
	}
	if got := r.Hints("inbox"); !slices.Equal(got, []string{"q:quit"}) {
		t.Errorf("Hints(inbox) = %v", got)
	}
}
