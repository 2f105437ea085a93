package taskrunner

import (
	"fmt"

	"github.com/anatolykoptev/go_recap/internal/engine/pipeline"
)

// Outbound message markers.
const (
	FailureMarker = "❌ 失敗:"
	SuccessMarker = "✅ 完成"
)

// AckMessage is replied immediately when a task is accepted.
const AckMessage = "🤖 收到！正在分析影片 (約需 15~30 秒)..."

// BusyMessage is replied when the runner is at capacity.
const BusyMessage = "⏳ 目前處理中的影片太多，請稍後再試。"

// FormatMessage renders the single outbound text for a finished task.
func FormatMessage(r pipeline.Recap) string {
	if r.Failed() {
		return fmt.Sprintf("%s %s", FailureMarker, r.Failure)
	}
	return fmt.Sprintf("%s (來源: %s)\n\n%s", SuccessMarker, r.SourceTag, r.Body)
}
