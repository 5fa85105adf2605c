package extractors

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	PromptMinLen   = 20    // 提示词长度下限(不含)
	PromptMaxLen   = 10000 // 提示词长度上限
	LogsMinLen     = 200   // 无输出特征时日志的最小长度
	FilePathMaxLen = 200
)

// navigationPhrases 页面导航栏中的文字,出现即说明取到了外层容器
var navigationPhrases = []string{"settings", "environments", "docs", "profile"}

// logMarkers 工具输出的特征
var logMarkers = []string{
	"⠙", "kib", "building", "preparing packages", "error", "warning",
	"pytest", "ruff", "traceback", "$ ",
}

var (
	monthPattern  = regexp.MustCompile(`\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\b`)
	agoPattern    = regexp.MustCompile(`(?i)\bago\b`)
	repoPattern   = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)
	statsPattern  = regexp.MustCompile(`\+\s*\d+.*-\s*\d+`)
	addedPattern  = regexp.MustCompile(`^\+\d+$`)
	deletePattern = regexp.MustCompile(`^-\d+$`)
)

func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// PromptFilter 提示词质量过滤
func PromptFilter(text string) bool {
	n := runeLen(text)
	if n <= PromptMinLen || n > PromptMaxLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range navigationPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	return true
}

// HasLogMarker 是否包含工具输出特征
func HasLogMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range logMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// LogsFilter 包含输出特征,或长度达到阈值
func LogsFilter(text string) bool {
	return HasLogMarker(text) || runeLen(text) >= LogsMinLen
}

// FilePathFilter 文件路径:包含路径分隔符,最后一段有扩展名
func FilePathFilter(text string) bool {
	if runeLen(text) >= FilePathMaxLen || strings.ContainsAny(text, " \t\n") {
		return false
	}
	if !strings.Contains(text, "/") {
		return false
	}
	ext := path.Ext(path.Base(text))
	return len(ext) > 1 && len(ext) <= 10
}

// LinkFilter 绝对http(s)链接
func LinkFilter(text string) bool {
	u, err := url.Parse(text)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// PullRequestFilter GitHub PR链接
func PullRequestFilter(text string) bool {
	return LinkFilter(text) && strings.Contains(text, "github.com") && strings.Contains(text, "/pull/")
}

// LooksLikeDate 月份名或相对时间
func LooksLikeDate(text string) bool {
	return monthPattern.MatchString(text) || agoPattern.MatchString(text)
}

// LooksLikeRepository owner/name形式
func LooksLikeRepository(text string) bool {
	return repoPattern.MatchString(strings.TrimSpace(text))
}

// LooksLikeStats 形如 "+12 -3"
func LooksLikeStats(text string) bool {
	return statsPattern.MatchString(text)
}

// MaxLen 长度上限(不含)
func MaxLen(n int) func(string) bool {
	return func(text string) bool {
		return runeLen(text) < n
	}
}

// MinLen 长度下限(不含)
func MinLen(n int) func(string) bool {
	return func(text string) bool {
		return runeLen(text) > n
	}
}

// ContainsAll 同时包含所有子串
func ContainsAll(subs ...string) func(string) bool {
	return func(text string) bool {
		for _, s := range subs {
			if !strings.Contains(text, s) {
				return false
			}
		}
		return true
	}
}

// ContainsAnyFold 包含任一子串(不区分大小写)
func ContainsAnyFold(subs ...string) func(string) bool {
	return func(text string) bool {
		lower := strings.ToLower(text)
		for _, s := range subs {
			if strings.Contains(lower, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
}

// All 组合多个过滤器
func All(filters ...func(string) bool) func(string) bool {
	return func(text string) bool {
		for _, f := range filters {
			if !f(text) {
				return false
			}
		}
		return true
	}
}
