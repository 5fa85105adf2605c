package extractors

import (
	"strings"
	"testing"
)

func TestPromptFilter(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"正常提示词", "Implement a retry loop around the upload client", true},
		{"刚好20个字符", strings.Repeat("a", 20), false},
		{"21个字符", strings.Repeat("a", 21), true},
		{"超长", strings.Repeat("a", PromptMaxLen+1), false},
		{"包含导航文字", "Open Settings and then go to your Profile page", false},
		{"大小写不敏感", "see the DOCS for this long enough sentence", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PromptFilter(tt.text); got != tt.want {
				t.Errorf("PromptFilter(%q) = %v, 期望 %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestLogsFilter(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"进度符号", "⠙ resolving", true},
		{"KiB", "Downloaded 3 KiB", true},
		{"错误大写", "ERROR: build failed", true},
		{"短文本无特征", "hello world", false},
		{"长文本无特征", strings.Repeat("x", LogsMinLen), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LogsFilter(tt.text); got != tt.want {
				t.Errorf("LogsFilter = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

func TestFilePathFilter(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"src/app.py", true},
		{"web/static/site.min.css", true},
		{"setup.py", false},
		{"src/Makefile", false},
		{"see src/app.py", false},
		{"a/" + strings.Repeat("b", FilePathMaxLen) + ".py", false},
	}
	for _, tt := range tests {
		if got := FilePathFilter(tt.text); got != tt.want {
			t.Errorf("FilePathFilter(%q) = %v, 期望 %v", tt.text, got, tt.want)
		}
	}
}

func TestMetadataPredicates(t *testing.T) {
	if !LooksLikeDate("May 20, 2025") || !LooksLikeDate("3 hours ago") || LooksLikeDate("Merged") {
		t.Error("LooksLikeDate判断错误")
	}
	if !LooksLikeRepository("ezyang/codex-test") || LooksLikeRepository("View on GitHub") {
		t.Error("LooksLikeRepository判断错误")
	}
	if !LooksLikeStats("+12 -3") || LooksLikeStats("+12") {
		t.Error("LooksLikeStats判断错误")
	}
	if !PullRequestFilter("https://github.com/o/r/pull/7") || PullRequestFilter("https://github.com/o/r") {
		t.Error("PullRequestFilter判断错误")
	}
}

func TestPlainText(t *testing.T) {
	got := PlainText(`<div>⠙ Building</div><div>done<br>ok</div><script>x()</script>`)
	want := "⠙ Building\ndone\nok"
	if got != want {
		t.Errorf("PlainText = %q, 期望 %q", got, want)
	}
}
