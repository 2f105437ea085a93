package taskrunner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_recap/internal/engine/pipeline"
)

type blockingProc struct {
	release chan struct{}
	recap   pipeline.Recap
	panics  bool
}

func (p *blockingProc) Run(context.Context, string) pipeline.Recap {
	if p.release != nil {
		<-p.release
	}
	if p.panics {
		panic("boom")
	}
	return p.recap
}

type message struct{ to, text string }

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, to, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message{to, text})
	return n.err
}

func (n *recordingNotifier) sent() []message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]message(nil), n.msgs...)
}

func TestRunner_NotifiesExactlyOnce(t *testing.T) {
	proc := &blockingProc{recap: pipeline.Recap{SourceTag: pipeline.TagCaptions, Body: "摘要"}}
	n := &recordingNotifier{}
	r := New(proc, n, 2, 10)

	id, err := r.Submit(Request{URL: "https://youtu.be/x", To: "U1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, r.Shutdown(context.Background()))
	msgs := n.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "U1", msgs[0].to)
	assert.Equal(t, "✅ 完成 (來源: CC字幕)\n\n摘要", msgs[0].text)
	assert.Zero(t, r.Pending())
}

func TestRunner_NotifyErrorIsNotRetried(t *testing.T) {
	n := &recordingNotifier{err: errors.New("push failed")}
	r := New(&blockingProc{recap: pipeline.Recap{Failure: "x"}}, n, 1, 1)

	_, err := r.Submit(Request{URL: "u", To: "U1"})
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Len(t, n.sent(), 1)
}

func TestRunner_QueueFull(t *testing.T) {
	proc := &blockingProc{release: make(chan struct{})}
	n := &recordingNotifier{}
	r := New(proc, n, 1, 2)

	_, err := r.Submit(Request{URL: "a", To: "U1"})
	require.NoError(t, err)
	_, err = r.Submit(Request{URL: "b", To: "U2"})
	require.NoError(t, err)

	_, err = r.Submit(Request{URL: "c", To: "U3"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(2), r.Pending())

	close(proc.release)
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Len(t, n.sent(), 2)
}

func TestRunner_ShutdownTimeoutAndReject(t *testing.T) {
	proc := &blockingProc{release: make(chan struct{})}
	r := New(proc, &recordingNotifier{}, 1, 4)

	_, err := r.Submit(Request{URL: "a", To: "U1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = r.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = r.Submit(Request{URL: "b", To: "U1"})
	assert.ErrorIs(t, err, ErrShuttingDown)

	close(proc.release)
	assert.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_ConcurrentSubmitAndShutdown(t *testing.T) {
	n := &recordingNotifier{}
	r := New(&blockingProc{recap: pipeline.Recap{Body: "ok"}}, n, 4, 1000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	start := make(chan struct{})
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := r.Submit(Request{URL: "u", To: "U1"}); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrShuttingDown)
			}
		}()
	}
	close(start)
	require.NoError(t, r.Shutdown(context.Background()))
	wg.Wait()

	// every task admitted before Shutdown returned has delivered its message
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, n.sent(), accepted)
	_, err := r.Submit(Request{URL: "u", To: "U1"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestRunner_PanicStillNotifies(t *testing.T) {
	n := &recordingNotifier{}
	r := New(&blockingProc{panics: true}, n, 1, 1)

	_, err := r.Submit(Request{URL: "a", To: "U1"})
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))

	msgs := n.sent()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].text, FailureMarker))
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name  string
		recap pipeline.Recap
		want  string
	}{
		{
			name:  "success",
			recap: pipeline.Recap{SourceTag: pipeline.TagSpeech, Body: "【前言】..."},
			want:  "✅ 完成 (來源: 語音轉錄)\n\n【前言】...",
		},
		{
			name:  "failure",
			recap: pipeline.Recap{Failure: pipeline.ReasonNoContent},
			want:  "❌ 失敗: 找不到任何字幕或音訊來源",
		},
		{
			name:  "failure with tag",
			recap: pipeline.Recap{SourceTag: pipeline.TagMirror, Failure: "AI 生成文章失敗: HTTP 429"},
			want:  "❌ 失敗: AI 生成文章失敗: HTTP 429",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMessage(tt.recap))
		})
	}
}
