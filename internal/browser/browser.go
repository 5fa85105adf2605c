package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

// WaitCondition 导航完成的判定条件
type WaitCondition string

const (
	WaitLoad             WaitCondition = "load"
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitNetworkIdle      WaitCondition = "networkidle"
)

// ParseWaitCondition 解析配置中的等待条件
func ParseWaitCondition(s string) (WaitCondition, error) {
	switch WaitCondition(strings.ToLower(strings.TrimSpace(s))) {
	case WaitLoad, "":
		return WaitLoad, nil
	case WaitDOMContentLoaded:
		return WaitDOMContentLoaded, nil
	case WaitNetworkIdle:
		return WaitNetworkIdle, nil
	default:
		return "", fmt.Errorf("无效的等待条件: %s (有效值: load, domcontentloaded, networkidle)", s)
	}
}

// Selector 元素选择描述
// CSS负责结构匹配,HasText进一步按元素文本过滤(不区分大小写)
type Selector struct {
	CSS     string
	HasText string
	Exact   bool // 为true时要求去除空白后的文本与HasText完全相等
}

// CSSSelector 只按CSS匹配
func CSSSelector(css string) Selector {
	return Selector{CSS: css}
}

// TextSelector CSS匹配后按包含文本过滤
func TextSelector(css, text string) Selector {
	return Selector{CSS: css, HasText: text}
}

// String 用于日志
func (s Selector) String() string {
	if s.HasText == "" {
		return s.CSS
	}
	if s.Exact {
		return fmt.Sprintf("%s:text-is(%q)", s.CSS, s.HasText)
	}
	return fmt.Sprintf("%s:has-text(%q)", s.CSS, s.HasText)
}

// Validate 检查CSS部分语法是否合法
func (s Selector) Validate() error {
	if strings.TrimSpace(s.CSS) == "" {
		return fmt.Errorf("选择器为空")
	}
	if _, err := cascadia.ParseGroup(s.CSS); err != nil {
		return fmt.Errorf("选择器语法错误 [%s]: %w", s.CSS, err)
	}
	return nil
}

// MatchText 判断元素文本是否满足HasText约束
func (s Selector) MatchText(text string) bool {
	if s.HasText == "" {
		return true
	}
	if s.Exact {
		return strings.TrimSpace(text) == s.HasText
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(s.HasText))
}

// Element 页面元素能力
type Element interface {
	Text(ctx context.Context) (string, error)
	InnerHTML(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Click(ctx context.Context) error
	Parent(ctx context.Context) (Element, error)
}

// Page 单个标签页能力
// Query在没有匹配元素时返回(nil, nil)
type Page interface {
	Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error
	Title(ctx context.Context) (string, error)
	Query(ctx context.Context, sel Selector) (Element, error)
	QueryAll(ctx context.Context, sel Selector) ([]Element, error)
	Evaluate(ctx context.Context, script string) (any, error)
	Close() error
}

// Context 浏览上下文,同一上下文内的页面共享cookie与登录状态
type Context interface {
	NewPage(ctx context.Context) (Page, error)
}

// Session 浏览器会话
type Session interface {
	// ActiveContext 返回当前可用的共享上下文,会话已断开时返回false
	ActiveContext() (Context, bool)
	Close() error
}

// filterByText 按Selector的文本约束过滤元素
func filterByText(ctx context.Context, sel Selector, elements []Element) ([]Element, error) {
	if sel.HasText == "" {
		return elements, nil
	}
	matched := make([]Element, 0, len(elements))
	for _, el := range elements {
		text, err := el.Text(ctx)
		if err != nil {
			if IsCapability(err) {
				return nil, err
			}
			continue
		}
		if sel.MatchText(text) {
			matched = append(matched, el)
		}
	}
	return matched, nil
}
