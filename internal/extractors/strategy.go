package extractors

import (
	"context"
	"sort"
	"strings"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/rs/zerolog/log"
)

// Source 候选值的读取方式
type Source int

const (
	SourceText       Source = iota // 元素文本
	SourceAttr                     // 元素属性
	SourceParentText               // 父元素文本(标题类元素定位整段内容)
)

// Strategy 单个提取策略
type Strategy struct {
	ID       string
	Selector browser.Selector
	Source   Source
	Attr     string // Source为SourceAttr时读取的属性名
	Priority int    // 越小越先尝试,相同时保持声明顺序
	Limit    int    // 最多检查的候选元素数,0表示不限

	// Applies 策略自身的适用性判断,在链的质量过滤之前执行
	Applies func(text string) bool
}

// Chain 一个逻辑字段的策略链
type Chain struct {
	Field      string
	Strategies []Strategy
	Filter     func(text string) bool // 质量过滤
	NeedMarkup bool                   // 同时读取innerHTML
}

// FieldResult 一次字段提取的结果
type FieldResult struct {
	Value      string
	Markup     string
	StrategyID string
	Found      bool
}

// ordered 按优先级稳定排序
func (c Chain) ordered() []Strategy {
	strategies := make([]Strategy, len(c.Strategies))
	copy(strategies, c.Strategies)
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority < strategies[j].Priority
	})
	return strategies
}

func (c Chain) accept(s Strategy, text string) bool {
	if text == "" {
		return false
	}
	if s.Applies != nil && !s.Applies(text) {
		return false
	}
	return c.Filter == nil || c.Filter(text)
}

// Resolve 按优先级依次尝试策略,返回第一个通过过滤的候选
// 全部策略耗尽时返回Found=false;只有能力失效或ctx结束才返回错误
func Resolve(ctx context.Context, page browser.Page, chain Chain) (FieldResult, error) {
	for _, s := range chain.ordered() {
		var result FieldResult
		done, err := scan(ctx, page, chain, s, func(r FieldResult) bool {
			result = r
			return true
		})
		if err != nil {
			return FieldResult{}, err
		}
		if done {
			return result, nil
		}
	}
	return FieldResult{}, nil
}

// Collect 收集所有策略中通过过滤的候选,按首次出现顺序去重
func Collect(ctx context.Context, page browser.Page, chain Chain) ([]FieldResult, error) {
	var results []FieldResult
	seen := make(map[string]bool)
	for _, s := range chain.ordered() {
		_, err := scan(ctx, page, chain, s, func(r FieldResult) bool {
			if !seen[r.Value] {
				seen[r.Value] = true
				results = append(results, r)
			}
			return false
		})
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// scan 对单个策略的候选元素逐个读取并过滤,visit返回true时停止
func scan(ctx context.Context, page browser.Page, chain Chain, s Strategy, visit func(FieldResult) bool) (bool, error) {
	elements, err := page.QueryAll(ctx, s.Selector)
	if err != nil {
		if fatal(ctx, err) {
			return false, err
		}
		log.Debug().Err(err).Str("field", chain.Field).Str("strategy", s.ID).Msg("策略查询失败,尝试下一个")
		return false, nil
	}
	if s.Limit > 0 && len(elements) > s.Limit {
		elements = elements[:s.Limit]
	}

	for _, el := range elements {
		text, markup, ok, err := read(ctx, el, s, chain.NeedMarkup)
		if err != nil {
			if fatal(ctx, err) {
				return false, err
			}
			log.Debug().Err(err).Str("field", chain.Field).Str("strategy", s.ID).Msg("读取候选元素失败")
			continue
		}
		if !ok || !chain.accept(s, text) {
			continue
		}
		if visit(FieldResult{Value: text, Markup: markup, StrategyID: s.ID, Found: true}) {
			return true, nil
		}
	}
	return false, nil
}

// read 按策略的读取方式取出候选文本,值已去除首尾空白
func read(ctx context.Context, el browser.Element, s Strategy, needMarkup bool) (string, string, bool, error) {
	if s.Source == SourceParentText {
		parent, err := el.Parent(ctx)
		if err != nil || parent == nil {
			return "", "", false, err
		}
		el = parent
	}

	var text string
	if s.Source == SourceAttr {
		value, ok, err := el.Attribute(ctx, s.Attr)
		if err != nil || !ok {
			return "", "", false, err
		}
		text = value
	} else {
		value, err := el.Text(ctx)
		if err != nil {
			return "", "", false, err
		}
		text = value
	}

	var markup string
	if needMarkup {
		value, err := el.InnerHTML(ctx)
		if err != nil {
			return "", "", false, err
		}
		markup = value
	}
	return strings.TrimSpace(text), markup, true, nil
}

// fatal 能力失效或上层ctx结束时终止整条链
func fatal(ctx context.Context, err error) bool {
	return browser.IsCapability(err) || ctx.Err() != nil
}
