package i18n

import "testing"

func newTestLocales(t *testing.T) *Locales {
	t.Helper()
	l, err := New([]string{"en", "fr"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func TestNew_RejectsEmptyAndInvalid(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for empty locale list")
	}
	if _, err := New([]string{"not a locale!"}); err == nil {
		t.Error("expected error for invalid locale")
	}
}

func TestNegotiate(t *testing.T) {
	l := newTestLocales(t)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"ヘッダーなし", "", "en"},
		{"フランス語優先", "fr-CA,fr;q=0.9,en;q=0.8", "fr"},
		{"英語優先", "en-GB,en;q=0.9", "en"},
		{"未サポート言語のみ", "ja-JP", "en"},
		{"不正なヘッダー", ";;;q=abc", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Negotiate(tt.header); got != tt.want {
				t.Errorf("Negotiate(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	l := newTestLocales(t)

	if !l.Supported("fr") {
		t.Error("fr should be supported")
	}
	if !l.Supported("EN") {
		t.Error("locale match should be case-insensitive")
	}
	if l.Supported("de") {
		t.Error("de should not be supported")
	}
	if l.Default() != "en" {
		t.Errorf("Default() = %q, want %q", l.Default(), "en")
	}
}

func TestPrinter_Translates(t *testing.T) {
	l := newTestLocales(t)

	if got := l.Printer("fr").Sprintf("Sign in"); got != "Connexion" {
		t.Errorf("fr Sign in = %q, want %q", got, "Connexion")
	}
	if got := l.Printer("en").Sprintf("Sign in"); got != "Sign in" {
		t.Errorf("en Sign in = %q, want %q", got, "Sign in")
	}
	if got := l.Printer("fr").Sprintf("%d unread", 3); got != "3 non lues" {
		t.Errorf("fr unread = %q, want %q", got, "3 non lues")
	}
	if got := l.Printer("de").Sprintf("Sign in"); got != "Sign in" {
		t.Errorf("unsupported locale should fall back to default, got %q", got)
	}
}
