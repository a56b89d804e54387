package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dwatson385/ticketwatcher/internal/listing"
	apperr "dwatson385/ticketwatcher/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func testAlert() Alert {
	return Alert{
		EventName: "The National",
		Location:  "Alexandra Palace, London",
		EventDate: "Fri 13 Sep 2026, 7:00 PM",
		EventURL:  "https://www.twickets.live/en/event/123",
		Listing: listing.Listing{
			Id:       "L1",
			Tier:     "General Admission",
			Price:    "£45.00",
			Quantity: "2 tickets",
		},
	}
}

func newTestNotifier(serverURL string, chatIDs ...string) *TelegramNotifier {
	n := NewTelegramNotifier("test-token", chatIDs)
	n.apiBase = serverURL
	n.timeout = time.Second
	return n
}

func TestTelegramNotify(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "111", r.PostFormValue("chat_id"))
		assert.Equal(t, "HTML", r.PostFormValue("parse_mode"))
		assert.Contains(t, r.PostFormValue("text"), "The National")
		assert.Contains(t, r.PostFormValue("text"), "£45.00")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := newTestNotifier(server.URL, "111")
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestTelegramNotifyMultipleChats(t *testing.T) {
	var chats []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		chats = append(chats, r.PostFormValue("chat_id"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := newTestNotifier(server.URL, "111", "222")
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, []string{"111", "222"}, chats)
}

func TestTelegramNotifyDeliveryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := newTestNotifier(server.URL, "111")
	n.retries = 1

	err := n.Notify(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Equal(t, apperr.ErrorTypeDelivery, apperr.TypeOf(err))
}

func TestTelegramNotifyRetries(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := newTestNotifier(server.URL, "111")
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestTelegramNotifyPartialDeliveryIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostFormValue("chat_id") == "bad" {
			w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := newTestNotifier(server.URL, "bad", "111")
	n.retries = 1
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
}

func TestTelegramAnnounceEscapesHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostFormValue("text"), "&lt;b&gt;")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := newTestNotifier(server.URL, "111")
	assert.NoError(t, n.Announce(context.Background(), "literal <b> tag"))
}
