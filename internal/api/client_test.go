package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/matheus3301/inboxsync/internal/store"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "secret")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/conversations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, []store.Summary{
			{ID: "c1", DisplayName: "Ana", LastMessageAt: 100, UnreadCount: 2},
			{ID: "c2", DisplayName: "Bo", LastMessageAt: 200},
		})
	})

	list, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c1" || list[0].UnreadCount != 2 {
		t.Errorf("list = %+v", list)
	}
}

func TestListMessages(t *testing.T) {
	tests := []struct {
		name       string
		cursor     string
		wantCursor string
		next       *string
	}{
		{"newest page", "", "", ptr("p2")},
		{"older page", "p2", "p2", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/conversations/c1/messages" {
					t.Errorf("path = %q", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("limit") != "15" {
					t.Errorf("limit = %q", q.Get("limit"))
				}
				if _, ok := q["cursor"]; ok != (tt.wantCursor != "") || q.Get("cursor") != tt.wantCursor {
					t.Errorf("cursor = %q, want %q", q.Get("cursor"), tt.wantCursor)
				}
				writeJSON(w, store.Page{
					Messages:   []store.Message{{ID: "m1", ConversationID: "c1", Content: "hi"}},
					NextCursor: tt.next,
				})
			})

			page, err := c.ListMessages(context.Background(), "c1", tt.cursor, 15)
			if err != nil {
				t.Fatalf("ListMessages: %v", err)
			}
			if len(page.Messages) != 1 || page.Messages[0].ID != "m1" {
				t.Errorf("messages = %+v", page.Messages)
			}
			if (page.NextCursor == nil) != (tt.next == nil) {
				t.Errorf("next cursor = %v, want %v", page.NextCursor, tt.next)
			}
		})
	}
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/conversations/c1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var d store.Draft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			t.Errorf("decode draft: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, store.Message{ID: "m42", ConversationID: "c1", Content: d.Content, CreatedAt: 500})
	})

	msg, err := c.SendMessage(context.Background(), "c1", store.Draft{Content: "hello"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "m42" || msg.Content != "hello" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestSendMessageWithoutID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, store.Message{Content: "hello"})
	})
	if _, err := c.SendMessage(context.Background(), "c1", store.Draft{Content: "hello"}); err == nil {
		t.Error("expected error for response without id")
	}
}

func TestMarkRead(t *testing.T) {
	var called atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called.Store(r.Method == http.MethodPost && r.URL.Path == "/conversations/c1/read")
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.MarkRead(context.Background(), "c1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !called.Load() {
		t.Error("read endpoint not called")
	}
}

func TestErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.ListConversations(context.Background())
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
	if err := c.MarkRead(context.Background(), "c1"); !errors.Is(err, ErrStatus) {
		t.Errorf("MarkRead err = %v, want ErrStatus", err)
	}
}

func TestCanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []store.Summary{})
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ListConversations(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func ptr(s string) *string { return &s }
