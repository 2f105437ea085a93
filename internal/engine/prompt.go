package engine

// LLM prompt templates: data only, no logic.

// SummaryPrompt turns a transcript into a structured Traditional Chinese digest.
// Rendered with text/template; {{.Text}} is the (already truncated) transcript.
const SummaryPrompt = `你是一位專業主編。請閱讀以下影片逐字稿（可能是語音辨識結果或自動字幕），並用「繁體中文」寫成一篇重點懶人包。

要求：
1. 標題要吸睛。
2. 結構包含：【前言】、【核心重點摘要】(條列式)、【結論】。
3. 若原文是外語，請直接翻譯並整合。
4. 只輸出文章本身，不要加任何說明。

內容：
{{.Text}}`

// AudioSummaryPrompt asks a multimodal model to digest an uploaded audio file directly.
// The output uses the same section markers as SummaryPrompt so it is never re-summarised.
const AudioSummaryPrompt = `你是一位專業主編。請聆聽這段影片音訊，並用「繁體中文」寫成一篇重點懶人包。

要求：
1. 標題要吸睛。
2. 結構包含：【前言】、【核心重點摘要】(條列式)、【結論】。
3. 若音訊是外語，請直接翻譯並整合。
4. 只輸出文章本身，不要加任何說明。`

// DefaultSummaryMarkers are section headers that identify text as an existing summary.
var DefaultSummaryMarkers = []string{"【核心重點摘要】", "【前言】", "【結論】"}
