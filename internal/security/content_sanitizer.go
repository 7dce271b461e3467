// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はお知らせ本文などの利用者入力HTMLをサニタイズする。
// bluemondayの許可リストベースのポリシーで、安全なタグと属性のみを通過させる。
// 通知のタイトルと本文はタグをすべて除去したプレーンテキストとして扱う。
package security

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ContentSanitizerService は利用者入力のサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
	Sanitize(rawHTML string) string
	// StripTags はすべてのタグを除去したテキストを返す。
	StripTags(raw string) string
}

// ContentSanitizer はContentSanitizerServiceの実装。
// 保持するポリシーはスレッドセーフに使用できる。
type ContentSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, blockquote, strong, em, h3, h4, a
//   - aタグ: https/mailtoと相対URLのみ、外部リンクにtarget="_blank"とrel="noopener noreferrer"を付与
//   - script, iframe, style, img, on*属性は許可リストに無いため除去される
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https", "mailto")
	p.AllowRelativeURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &ContentSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

// StripTags はすべてのタグを除去したテキストを返す。
func (s *ContentSanitizer) StripTags(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// PlainTextExcerpt はHTMLからテキストノードのみを取り出し、
// 連続する空白を1つにまとめて最大maxRunes文字に切り詰める。
// 切り詰めた場合は末尾に"…"を付与する。
func PlainTextExcerpt(rawHTML string, maxRunes int) string {
	z := html.NewTokenizer(strings.NewReader(rawHTML))

	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF以外の不正入力でもそれまでのテキストを返す
			return truncateRunes(strings.Join(strings.Fields(b.String()), " "), maxRunes)
		case html.StartTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if tt == html.StartTagToken {
					skip++
				} else if skip > 0 {
					skip--
				}
			case "p", "br", "li", "h3", "h4", "blockquote":
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

// compile-time interface check
var _ ContentSanitizerService = (*ContentSanitizer)(nil)
