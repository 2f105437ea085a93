package linebot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go_recap/internal/engine/sources"
	"github.com/anatolykoptev/go_recap/internal/taskrunner"
)

const (
	maxBodyBytes    = 1 << 20
	maxTrackedUsers = 10000
	replyTimeout    = 10 * time.Second
)

// Submitter schedules background recap work.
type Submitter interface {
	Submit(req taskrunner.Request) (string, error)
}

// Replier answers an event through its reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// Handler serves the LINE webhook.
type Handler struct {
	secret  string
	tasks   Submitter
	replier Replier

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

// NewHandler creates a webhook handler. Each user may start one recap per
// 10 seconds with a burst of 3.
func NewHandler(channelSecret string, tasks Submitter, replier Replier) *Handler {
	return &Handler{
		secret:   channelSecret,
		tasks:    tasks,
		replier:  replier,
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(10 * time.Second),
		burst:    3,
	}
}

// NewRouter mounts the webhook, health and metrics endpoints.
func NewRouter(h *Handler, metrics func() string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Post("/callback", h.Callback)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	})
	if metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			io.WriteString(w, metrics()) //nolint:errcheck
		})
	}
	return r
}

// inbound is a text message that may carry a video link.
type inbound struct {
	replyToken string
	to         string
	text       string
}

// textMessage extracts a text message event. The recap is pushed to the user,
// or to the group/room when the user id is withheld.
func textMessage(ev webhook.EventInterface) (inbound, bool) {
	e, ok := ev.(webhook.MessageEvent)
	if !ok {
		return inbound{}, false
	}
	msg, ok := e.Message.(webhook.TextMessageContent)
	if !ok {
		return inbound{}, false
	}

	in := inbound{replyToken: e.ReplyToken, text: msg.Text}
	switch src := e.Source.(type) {
	case webhook.UserSource:
		in.to = src.UserId
	case webhook.GroupSource:
		in.to = lo.CoalesceOrEmpty(src.UserId, src.GroupId)
	case webhook.RoomSource:
		in.to = lo.CoalesceOrEmpty(src.UserId, src.RoomId)
	}
	return in, in.to != ""
}

// Callback verifies the signature and dispatches message events.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	cb, err := webhook.ParseRequest(h.secret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			slog.Warn("webhook: invalid signature", slog.String("remote", r.RemoteAddr))
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	for _, ev := range cb.Events {
		if in, ok := textMessage(ev); ok {
			h.handleMessage(r.Context(), in)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMessage(ctx context.Context, in inbound) {
	if !sources.IsVideoURL(in.text) {
		return
	}
	if !h.allow(in.to) {
		slog.Info("webhook: user rate limited", slog.String("to", in.to))
		return
	}

	_, err := h.tasks.Submit(taskrunner.Request{URL: in.text, To: in.to})
	text := taskrunner.AckMessage
	if err != nil {
		slog.Warn("webhook: submit rejected", slog.Any("error", err))
		text = taskrunner.BusyMessage
		if !errors.Is(err, taskrunner.ErrQueueFull) {
			text = taskrunner.FailureMarker + " " + err.Error()
		}
	}

	// the reply must not outlive the webhook round trip by much
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	if err := h.replier.Reply(rctx, in.replyToken, text); err != nil {
		slog.Warn("webhook: reply failed", slog.Any("error", err))
	}
}

func (h *Handler) allow(user string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[user]
	if !ok {
		if len(h.limiters) >= maxTrackedUsers {
			h.pruneLocked()
		}
		lim = rate.NewLimiter(h.every, h.burst)
		h.limiters[user] = lim
	}
	return lim.Allow()
}

// pruneLocked drops limiters that have fully refilled; they carry no state.
func (h *Handler) pruneLocked() {
	for user, lim := range h.limiters {
		if lim.Tokens() >= float64(h.burst) {
			delete(h.limiters, user)
		}
	}
}
