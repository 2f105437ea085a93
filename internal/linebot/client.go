// Package linebot adapts the LINE Messaging API: the inbound webhook and
// outbound reply/push calls.
package linebot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// DefaultAPIBase is the production Messaging API host.
const DefaultAPIBase = "https://api.line.me"

// maxTextRunes is the Messaging API limit for one text message.
const maxTextRunes = 5000

// Client sends reply and push messages.
type Client struct {
	http  *http.Client
	token string
	base  string
}

// NewClient creates a Messaging API client with a channel access token.
func NewClient(httpClient *http.Client, token, base string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if base == "" {
		base = DefaultAPIBase
	}
	return &Client{http: httpClient, token: token, base: strings.TrimRight(base, "/")}
}

// api returns a request-scoped SDK client. WithContext mutates its receiver,
// so clients are never shared between calls.
func (c *Client) api(ctx context.Context) (*messaging_api.MessagingApiAPI, error) {
	bot, err := messaging_api.NewMessagingApiAPI(c.token,
		messaging_api.WithHTTPClient(c.http),
		messaging_api.WithEndpoint(c.base),
	)
	if err != nil {
		return nil, err
	}
	return bot.WithContext(ctx), nil
}

func textMessages(text string) []messaging_api.MessageInterface {
	return []messaging_api.MessageInterface{messaging_api.TextMessage{Text: capText(text)}}
}

// Reply answers a webhook event with its one-shot reply token.
// Reply tokens are single-use, so a failed reply is not retried.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	const op = "line reply"
	bot, err := c.api(ctx)
	if err != nil {
		return engine.Upstream(op, 0, err)
	}
	resp, _, err := bot.ReplyMessageWithHttpInfo(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   textMessages(text),
	})
	return result(op, resp, err, false)
}

// Push sends an unsolicited message to a user, group or room id.
// Retries carry the same X-Line-Retry-Key, so a message is never delivered twice.
func (c *Client) Push(ctx context.Context, to, text string) error {
	const op = "line push"
	if to == "" {
		return errors.New("push: empty recipient")
	}
	retryKey := uuid.NewString()
	req := &messaging_api.PushMessageRequest{To: to, Messages: textMessages(text)}

	var lastErr error
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		bot, err := c.api(ctx)
		if err != nil {
			return nil, err
		}
		resp, _, err := bot.PushMessageWithHttpInfo(req, retryKey)
		lastErr = err
		if resp == nil {
			return nil, err
		}
		// status-coded failures are judged by the retry policy, not the SDK error
		return resp, nil
	})
	if err != nil {
		return engine.Upstream(op, 0, err)
	}
	return result(op, resp, lastErr, true)
}

// Notify implements taskrunner.Notifier.
func (c *Client) Notify(ctx context.Context, to, text string) error {
	return c.Push(ctx, to, text)
}

// result maps an SDK outcome onto the error taxonomy. A 409 on a retried push
// means an earlier attempt with the same retry key was accepted.
func result(op string, resp *http.Response, err error, idempotent bool) error {
	if resp == nil {
		if err == nil {
			return nil
		}
		return engine.Upstream(op, 0, err)
	}
	if idempotent && resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode/100 == 2 && err == nil {
		return nil
	}
	if err == nil {
		err = errors.New(http.StatusText(resp.StatusCode))
	}
	return engine.Upstream(op, resp.StatusCode, errors.New(engine.Snippet(err.Error(), 200)))
}

// capText keeps s within the limit, ellipsis included.
func capText(s string) string {
	if utf8.RuneCountInString(s) <= maxTextRunes {
		return s
	}
	return engine.TruncateRunes(s, maxTextRunes-1, "") + "…"
}
