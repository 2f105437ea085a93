package linebot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

type pushPayload struct {
	To         string `json:"to"`
	ReplyToken string `json:"replyToken"`
	Messages   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"messages"`
}

func TestReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Line-Retry-Key"))

		var p pushPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "rt", p.ReplyToken)
		if assert.Len(t, p.Messages, 1) {
			assert.Equal(t, "text", p.Messages[0].Type)
			assert.Equal(t, "hi", p.Messages[0].Text)
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), "tok", srv.URL)
	require.NoError(t, c.Reply(context.Background(), "rt", "hi"))
}

func TestReplyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Invalid reply token"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.Client(), "tok", srv.URL).Reply(context.Background(), "rt", "hi")
	var ue *engine.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Contains(t, err.Error(), "Invalid reply token")
}

func TestPushRetriesWithSameKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("X-Line-Retry-Key"))
		n := len(keys)
		mu.Unlock()

		var p pushPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "U1", p.To)

		switch n {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			// the first attempt was accepted after all
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"message":"The retry key is already accepted"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), "tok", srv.URL)
	require.NoError(t, c.Notify(context.Background(), "U1", "done"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
}

func TestPushEmptyRecipient(t *testing.T) {
	c := NewClient(nil, "tok", "http://unused")
	assert.Error(t, c.Push(context.Background(), "", "x"))
}

func TestCapText(t *testing.T) {
	assert.Equal(t, "short", capText("short"))

	exact := strings.Repeat("字", maxTextRunes)
	assert.Equal(t, exact, capText(exact))

	long := capText(strings.Repeat("字", maxTextRunes+100))
	assert.LessOrEqual(t, utf8.RuneCountInString(long), maxTextRunes)
	assert.True(t, strings.HasSuffix(long, "…"))
}

func TestPushDelivered(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v2/bot/message/push", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Line-Retry-Key"))

		var p pushPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "C1", p.To)
		if assert.Len(t, p.Messages, 1) {
			assert.Equal(t, "text", p.Messages[0].Type)
			assert.Equal(t, "recap", p.Messages[0].Text)
		}
		w.Write([]byte(`{"sentMessages":[{"id":"1","quoteToken":"q"}]}`))
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.Client(), "tok", srv.URL).Push(context.Background(), "C1", "recap"))
	assert.Equal(t, 1, calls)
}

func TestReplyIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"busy"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.Client(), "tok", srv.URL).Reply(context.Background(), "rt", "hi")
	var ue *engine.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.Status)
	assert.Equal(t, 1, calls, "reply tokens are single-use")
}
