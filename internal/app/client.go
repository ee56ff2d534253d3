package app

import (
	"context"
	"fmt"

	"github.com/matheus3301/inboxsync/internal/outbox"
	"github.com/matheus3301/inboxsync/internal/status"
	"github.com/matheus3301/inboxsync/internal/store"
	intsync "github.com/matheus3301/inboxsync/internal/sync"
)

// Client is the surface a UI drives: the inbox, per-conversation timelines,
// and sending.
type Client struct {
	summaries *store.Summaries
	timelines *store.Timelines
	sender    *outbox.Sender
	bridge    *intsync.Bridge
	machine   *status.Machine
	pageSize  int
}

// NewClient wires the client facade.
func NewClient(p Params, summaries *store.Summaries, timelines *store.Timelines, sender *outbox.Sender, bridge *intsync.Bridge, machine *status.Machine) *Client {
	return &Client{
		summaries: summaries,
		timelines: timelines,
		sender:    sender,
		bridge:    bridge,
		machine:   machine,
		pageSize:  p.Config.PageSize,
	}
}

// Summaries returns the conversation inbox.
func (c *Client) Summaries() *store.Summaries {
	return c.summaries
}

// State returns the push channel state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// Live reports whether push events are being applied.
func (c *Client) Live() bool {
	return c.bridge.Attached()
}

// OpenConversation registers an observer of the conversation and loads its
// newest page on first open. The caller must CloseConversation even when
// the load fails; the returned timeline stays usable.
func (c *Client) OpenConversation(ctx context.Context, conversationID string) (*store.Timeline, error) {
	tl := c.timelines.Open(conversationID)
	if tl.Loaded() {
		return tl, nil
	}
	if err := tl.LoadRecent(ctx, c.pageSize); err != nil {
		return tl, fmt.Errorf("open conversation %s: %w", conversationID, err)
	}
	return tl, nil
}

// CloseConversation releases one observer of the conversation.
func (c *Client) CloseConversation(conversationID string) {
	c.timelines.Release(conversationID)
}

// LoadOlder fetches the previous page of an open conversation.
func (c *Client) LoadOlder(ctx context.Context, conversationID string) error {
	tl, ok := c.timelines.Get(conversationID)
	if !ok {
		return outbox.ErrNotOpen
	}
	return tl.LoadOlder(ctx)
}

// Send shows the draft immediately and delivers it in the background.
func (c *Client) Send(conversationID string, draft store.Draft) (string, error) {
	return c.sender.Send(conversationID, draft)
}

// MarkRead clears the unread count and acknowledges it on the service.
func (c *Client) MarkRead(ctx context.Context, conversationID string) {
	c.summaries.MarkRead(ctx, conversationID)
}

// Refresh refetches the inbox baseline.
func (c *Client) Refresh(ctx context.Context) error {
	return c.summaries.Refresh(ctx)
}
