package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/inboxsync/internal/store"
)

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("unexpected response status")

// Client talks to the conversation REST service. It implements the fetcher,
// sender and read-marker interfaces the stores and the outbox depend on.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the service at baseURL. A non-empty token
// is sent as a bearer token.
func NewClient(baseURL, token string) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "inboxsync/1.0").
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)
	if token != "" {
		httpClient.SetAuthToken(token)
	}
	return &Client{http: httpClient}
}

// ListConversations fetches the conversation summary list.
func (c *Client) ListConversations(ctx context.Context) ([]store.Summary, error) {
	var out []store.Summary
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/conversations")
	if err := check("list conversations", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages fetches one backward page of a conversation. An empty cursor
// requests the newest page.
func (c *Client) ListMessages(ctx context.Context, conversationID, cursor string, limit int) (store.Page, error) {
	var page store.Page
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&page)
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	resp, err := req.Get("/conversations/{id}/messages")
	if err := check("list messages", resp, err); err != nil {
		return store.Page{}, err
	}
	return page, nil
}

// SendMessage posts a draft and returns the message as stored by the service.
func (c *Client) SendMessage(ctx context.Context, conversationID string, draft store.Draft) (store.Message, error) {
	var msg store.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		SetHeader("Content-Type", "application/json").
		SetBody(draft).
		SetResult(&msg).
		Post("/conversations/{id}/messages")
	if err := check("send message", resp, err); err != nil {
		return store.Message{}, err
	}
	if msg.ID == "" {
		return store.Message{}, errors.New("send message: response without message id")
	}
	return msg, nil
}

// MarkRead acknowledges the conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		Post("/conversations/{id}/read")
	return check("mark read", resp, err)
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %w %d: %s", op, ErrStatus, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
