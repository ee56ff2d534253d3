package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/inboxsync/internal/app"
	"github.com/matheus3301/inboxsync/internal/bus"
	"github.com/matheus3301/inboxsync/internal/outbox"
	"github.com/matheus3301/inboxsync/internal/status"
	"github.com/matheus3301/inboxsync/internal/store"
	"github.com/matheus3301/inboxsync/internal/tui/keys"
	"github.com/matheus3301/inboxsync/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageInbox    = "inbox"
	pageTimeline = "timeline"

	flashDuration = 5 * time.Second
)

// App is the terminal inbox. Store listeners and bus events are turned into
// queued redraws; blocking calls run off the tview event loop.
type App struct {
	tv        *tview.Application
	pages     *tview.Pages
	client    *app.Client
	bus       *bus.Bus
	registry  *keys.Registry
	statusBar *views.StatusBar
	inbox     *views.Inbox
	timeline  *views.Timeline
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc

	// Owned by the tview event loop.
	openID        string
	unsubTimeline func()
	flashTimer    *time.Timer
}

// NewApp creates the TUI application.
func NewApp(c *app.Client, b *bus.Bus, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		tv:        tview.NewApplication(),
		pages:     tview.NewPages(),
		client:    c,
		bus:       b,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(profileName),
		inbox:     views.NewInbox(),
		timeline:  views.NewTimeline(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q', Description: "q:quit", Visible: true,
		Handler: func() { a.tv.Stop() },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'r', Description: "r:refresh", Visible: true,
		Handler: func() {
			go func() {
				if err := a.client.Refresh(a.ctx); err != nil {
					a.flash("Refresh failed: " + err.Error())
				}
			}()
		},
	})
	a.registry.AddPage(pageTimeline, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i', Description: "i:compose", Visible: true,
		Handler: func() { a.tv.SetFocus(a.composer) },
	})
	a.registry.AddPage(pageTimeline, &keys.Action{
		Key: tcell.KeyRune, Rune: 'o', Description: "o:older", Visible: true,
		Handler: func() {
			id := a.openID
			go func() {
				if err := a.client.LoadOlder(a.ctx, id); err != nil {
					a.flash("Load failed: " + err.Error())
				}
			}()
		},
	})
	a.registry.AddPage(pageTimeline, &keys.Action{
		Key: tcell.KeyRune, Rune: 'm', Description: "m:mark read", Visible: true,
		Handler: func() {
			id := a.openID
			go a.client.MarkRead(a.ctx, id)
		},
	})
}

func (a *App) setupCallbacks() {
	a.inbox.SetSelectedFunc(func(row, col int) {
		if id := a.inbox.Selected(); id != "" {
			a.openConversation(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		id := a.openID
		if id == "" {
			return
		}
		go func() {
			if _, err := a.client.Send(id, store.Draft{Content: text}); err != nil {
				a.flash("Send failed: " + err.Error())
			}
		}()
	})
}

func (a *App) setupLayout() {
	conversation := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.timeline, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageInbox, a.inbox, true, true)
	a.pages.AddPage(pageTimeline, conversation, true, false)
	a.pages.SetChangedFunc(func() {
		page, _ := a.pages.GetFrontPage()
		a.statusBar.SetHints(a.registry.Hints(page))
	})
	a.statusBar.SetHints(a.registry.Hints(pageInbox))

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	a.tv.SetRoot(root, true)

	a.tv.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			if a.tv.GetFocus() == a.composer.InputField {
				a.tv.SetFocus(a.timeline)
				return nil
			}
			if page == pageTimeline {
				a.closeConversation()
				return nil
			}
		}

		// Let the composer handle all keys normally.
		if _, ok := a.tv.GetFocus().(*tview.InputField); ok {
			return event
		}
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) openConversation(id string) {
	name := id
	if sum, ok := a.client.Summaries().Get(id); ok && sum.DisplayName != "" {
		name = sum.DisplayName
	}
	a.openID = id
	a.timeline.SetTitleName(name)
	a.timeline.Update(nil, false, true)
	a.pages.SwitchToPage(pageTimeline)
	a.tv.SetFocus(a.timeline)

	go func() {
		tl, err := a.client.OpenConversation(a.ctx, id)
		if err != nil {
			a.flash(err.Error())
		}
		unsub := tl.Subscribe(func() { a.renderTimeline(tl) })
		a.client.MarkRead(a.ctx, id)
		a.tv.QueueUpdateDraw(func() {
			if a.openID != id || a.unsubTimeline != nil {
				// The user left before the load finished.
				unsub()
				a.client.CloseConversation(id)
				return
			}
			a.unsubTimeline = unsub
			a.timeline.Update(tl.Messages(), tl.HasMore(), tl.Loading())
		})
	}()
}

func (a *App) closeConversation() {
	if a.unsubTimeline != nil {
		a.unsubTimeline()
		a.unsubTimeline = nil
		a.client.CloseConversation(a.openID)
	}
	a.openID = ""
	a.pages.SwitchToPage(pageInbox)
	a.tv.SetFocus(a.inbox)
}

// renderTimeline and renderInbox run as store listeners. The queued redraw
// reads the store again, so redraws may coalesce or reorder freely.
func (a *App) renderTimeline(tl *store.Timeline) {
	go a.tv.QueueUpdateDraw(func() {
		if a.openID == tl.ConversationID() && a.unsubTimeline != nil {
			a.timeline.Update(tl.Messages(), tl.HasMore(), tl.Loading())
		}
	})
}

func (a *App) renderInbox() {
	go a.tv.QueueUpdateDraw(func() {
		summaries := a.client.Summaries()
		a.inbox.Update(summaries.List())
		a.statusBar.SetUnread(summaries.UnreadTotal())
	})
}

func (a *App) flash(msg string) {
	a.tv.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(msg)
		if a.flashTimer != nil {
			a.flashTimer.Stop()
		}
		a.flashTimer = time.AfterFunc(flashDuration, func() {
			a.tv.QueueUpdateDraw(func() { a.statusBar.SetFlash("") })
		})
	})
}

// watchBus reflects channel state and failed sends in the status bar.
func (a *App) watchBus() {
	channel, unsubChannel := a.bus.Subscribe("channel.", 16)
	failed, unsubFailed := a.bus.Subscribe(bus.KindSendFailed, 16)
	go func() {
		defer unsubChannel()
		defer unsubFailed()
		for {
			select {
			case evt := <-channel:
				change, ok := evt.Payload.(status.StatusChange)
				if !ok {
					continue
				}
				a.tv.QueueUpdateDraw(func() {
					a.statusBar.SetChannel(change.To, change.To == status.Ready)
				})
			case evt := <-failed:
				if res, ok := evt.Payload.(outbox.Result); ok && res.Err != nil {
					a.flash("Send failed: " + res.Err.Error())
				}
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Run starts the TUI and blocks until the user quits.
func (a *App) Run() error {
	defer a.cancel()
	a.watchBus()
	unsub := a.client.Summaries().Subscribe(a.renderInbox)
	defer unsub()
	a.statusBar.SetChannel(a.client.State(), a.client.Live())
	a.renderInbox()
	return a.tv.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.tv.Stop()
}
