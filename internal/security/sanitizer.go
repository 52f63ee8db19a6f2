package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はIdPや外部APIから受け取った表示用文字列からHTMLを除去する。
// ユーザー名、ファイル名、予定タイトル等はプレーンテキストとして扱う。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicy（全タグ除去）のTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした実体参照は戻す（テンプレート側で再度エスケープされるため）。
// 前後の空白と制御文字も取り除く。
func (s *TextSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return -1
		}
		return r
	}, cleaned)
	return strings.TrimSpace(cleaned)
}

// Limit はTextの結果をmaxRunes文字に切り詰める。
func (s *TextSanitizer) Limit(raw string, maxRunes int) string {
	text := s.Text(raw)
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}
