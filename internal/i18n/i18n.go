// Package i18n はロケールの判定と画面文言の翻訳を提供する。
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Locales はサポートするロケールの集合と翻訳カタログを保持する。
// 先頭のロケールがデフォルトになる。
type Locales struct {
	names   []string
	tags    []language.Tag
	matcher language.Matcher
	catalog catalog.Catalog
}

// New はロケール名の一覧からLocalesを生成する。
// 先頭の要素をデフォルトロケールとして扱う。
func New(names []string) (*Locales, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one locale is required")
	}

	tags := make([]language.Tag, 0, len(names))
	for _, name := range names {
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", name, err)
		}
		tags = append(tags, tag)
	}

	cat, err := newCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to build message catalog: %w", err)
	}

	return &Locales{
		names:   names,
		tags:    tags,
		matcher: language.NewMatcher(tags),
		catalog: cat,
	}, nil
}

// Default はデフォルトロケール名を返す。
func (l *Locales) Default() string {
	return l.names[0]
}

// Names はサポートするロケール名の一覧を返す。
func (l *Locales) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// Supported はロケール名がサポート対象かどうかを返す。
func (l *Locales) Supported(name string) bool {
	for _, n := range l.names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// Negotiate はAccept-Languageヘッダーから最も適したロケール名を返す。
// 解析できない場合や一致しない場合はデフォルトロケールを返す。
func (l *Locales) Negotiate(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return l.Default()
	}
	_, index, confidence := l.matcher.Match(tags...)
	if confidence == language.No {
		return l.Default()
	}
	return l.names[index]
}

// Printer は指定ロケールの翻訳プリンターを返す。
// 未サポートのロケールはデフォルトロケールとして扱う。
func (l *Locales) Printer(locale string) *message.Printer {
	tag := l.tags[0]
	for i, n := range l.names {
		if strings.EqualFold(n, locale) {
			tag = l.tags[i]
			break
		}
	}
	return message.NewPrinter(tag, message.Catalog(l.catalog))
}
