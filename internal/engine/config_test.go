package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaults(t *testing.T) {
	c := Config{GeminiAPIKeys: []string{"", "k1"}, MirrorTimeout: 3 * time.Second}.WithDefaults()

	assert.Equal(t, []string{"k1"}, c.GeminiAPIKeys)
	assert.Equal(t, DefaultModels, c.GeminiModels)
	assert.Equal(t, DefaultLangPriority, c.LangPriority)
	assert.Equal(t, 3*time.Second, c.MirrorTimeout, "explicit values are kept")
	assert.Equal(t, int64(DefaultLargeAudioBytes), c.LargeAudioBytes)
	assert.Equal(t, DefaultMaxInputChars, c.MaxInputChars)
	assert.Equal(t, SummaryPrompt, c.PromptTemplate)
	assert.NotEmpty(t, c.AudioDir)
	assert.NotNil(t, c.HTTPClient)
}

func TestConfigWithDefaultsDeduplicates(t *testing.T) {
	c := Config{
		GeminiAPIKeys: []string{"k1", "k2", "k1", ""},
		GeminiModels:  []string{"m1", "m1", "m2"},
		LangPriority:  []string{"zh-TW", "en", "zh-TW"},
	}.WithDefaults()

	assert.Equal(t, []string{"k1", "k2"}, c.GeminiAPIKeys)
	assert.Equal(t, []string{"m1", "m2"}, c.GeminiModels)
	assert.Equal(t, []string{"zh-TW", "en"}, c.LangPriority)
}

func TestUpstreamError(t *testing.T) {
	err := Upstream("generate", 429, fmt.Errorf("%w: quota", ErrRateLimited))
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Contains(t, err.Error(), "HTTP 429")

	var ue *UpstreamError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &ue))
	assert.Equal(t, 429, ue.Status)

	assert.NotEmpty(t, Upstream("x", 0, nil).Error())
	assert.True(t, IsNotFound(fmt.Errorf("mirrors: %w", ErrNotFound)))
}

func TestFormatMetrics(t *testing.T) {
	IncrMirrorPolls()
	out := FormatMetrics()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, len(metricKeys))
	assert.True(t, strings.HasPrefix(lines[0], "transcript_requests "))
	assert.GreaterOrEqual(t, GetMetrics()["mirror_polls"], int64(1))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "你好", TruncateRunes("你好", 5, ""))
	assert.Equal(t, "abc", TruncateRunes("abc", 0, ""))
	assert.Equal(t, 3, len([]rune(TruncateRunes("你好世界", 3, ""))))
}
