package provider

import (
	"testing"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestCleanSymbol(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2330.TW", "2330"},
		{"2330:TW", "2330"},
		{"0050.TW", "0050"},
		{"AAPL", "AAPL"},
		{"2330", "2330"},
		{"TW.TW", "TW"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanSymbol(tc.in); got != tc.want {
			t.Fatalf("CleanSymbol(%q) 期望 %q, 实际 %q", tc.in, tc.want, got)
		}
	}
}

func TestIsTaiwanListed(t *testing.T) {
	if !IsTaiwanListed("2330.TW") || !IsTaiwanListed("2603:TW") {
		t.Fatal("带 TW 后缀的 symbol 应路由到台股")
	}
	if IsTaiwanListed("AAPL") || IsTaiwanListed("TWLO") {
		t.Fatal("无 TW 后缀的 symbol 不应路由到台股")
	}
}
