package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/extractors"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultListingURL 归档任务列表页
const DefaultListingURL = "https://chatgpt.com/codex?tab=archived"

// taskLinkSelector 列表页中的任务链接
const taskLinkSelector = `a[href*="/codex/tasks/task_e_"]`

const (
	scrollScript = `() => {
		window.scrollTo(0, document.body.scrollHeight);
		return document.body.scrollHeight;
	}`
	heightScript = `() => document.body.scrollHeight`
	linksScript  = `() => {
		var anchors = document.querySelectorAll('a[href*="/codex/tasks/task_e_"]');
		var hrefs = [];
		for (var i = 0; i < anchors.length; i++) {
			if (anchors[i].href) {
				hrefs.push(anchors[i].href);
			}
		}
		return hrefs;
	}`
)

// CollectorConfig 任务URL发现参数
type CollectorConfig struct {
	ListingURL string
	ScrollWait time.Duration // 每次滚动后等待新内容加载
	MaxScrolls int
	NavTimeout time.Duration
	WaitUntil  browser.WaitCondition
}

// Collector 在列表页滚动到底并收集所有任务链接
type Collector struct {
	config  CollectorConfig
	matcher *models.TargetMatcher
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewCollector 创建URL收集器
func NewCollector(config CollectorConfig, matcher *models.TargetMatcher) *Collector {
	if config.ListingURL == "" {
		config.ListingURL = DefaultListingURL
	}
	if config.MaxScrolls <= 0 {
		config.MaxScrolls = 200
	}
	return &Collector{config: config, matcher: matcher, sleep: extractors.Sleep}
}

// SetSleep 替换等待函数
func (c *Collector) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// Collect 返回去重并按URL排序的任务目标
func (c *Collector) Collect(ctx context.Context, session browser.Session) ([]models.Target, error) {
	if session == nil {
		return nil, ErrNoSession
	}
	bctx, ok := session.ActiveContext()
	if !ok {
		return nil, ErrNoSession
	}

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("打开标签页失败: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, c.config.ListingURL, c.config.WaitUntil, c.config.NavTimeout); err != nil {
		return nil, fmt.Errorf("打开列表页失败: %w", err)
	}

	if err := c.scrollToEnd(ctx, page); err != nil {
		return nil, err
	}

	hrefs, err := c.evaluateLinks(ctx, page)
	if errors.Is(err, browser.ErrUnsupported) {
		hrefs, err = c.queryLinks(ctx, page)
	}
	if err != nil {
		return nil, fmt.Errorf("提取任务链接失败: %w", err)
	}

	return c.toTargets(hrefs), nil
}

// scrollToEnd 反复滚动到底部,直到页面高度不再变化
func (c *Collector) scrollToEnd(ctx context.Context, page browser.Page) error {
	prev, err := evalNumber(ctx, page, heightScript)
	if errors.Is(err, browser.ErrUnsupported) {
		log.Debug().Msg("页面不支持脚本执行,跳过滚动")
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取页面高度失败: %w", err)
	}

	for i := 0; i < c.config.MaxScrolls; i++ {
		if _, err := evalNumber(ctx, page, scrollScript); err != nil {
			return fmt.Errorf("滚动页面失败: %w", err)
		}
		if err := c.sleep(ctx, c.config.ScrollWait); err != nil {
			return err
		}
		height, err := evalNumber(ctx, page, heightScript)
		if err != nil {
			return fmt.Errorf("读取页面高度失败: %w", err)
		}
		log.Debug().Int("scroll", i+1).Float64("height", height).Msg("滚动列表页")
		if height == prev {
			return nil
		}
		prev = height
	}
	log.Warn().Int("max_scrolls", c.config.MaxScrolls).Msg("达到最大滚动次数,列表可能不完整")
	return nil
}

func (c *Collector) evaluateLinks(ctx context.Context, page browser.Page) ([]string, error) {
	value, err := page.Evaluate(ctx, linksScript)
	if err != nil {
		return nil, err
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("脚本返回值类型错误: %T", value)
	}
	hrefs := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			hrefs = append(hrefs, s)
		}
	}
	return hrefs, nil
}

// queryLinks 不能执行脚本时直接读取链接的href属性,按列表页地址解析相对路径
func (c *Collector) queryLinks(ctx context.Context, page browser.Page) ([]string, error) {
	base, err := url.Parse(c.config.ListingURL)
	if err != nil {
		return nil, err
	}
	elements, err := page.QueryAll(ctx, browser.CSSSelector(taskLinkSelector))
	if err != nil {
		return nil, err
	}
	hrefs := make([]string, 0, len(elements))
	for _, el := range elements {
		href, ok, err := el.Attribute(ctx, "href")
		if err != nil || !ok {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		hrefs = append(hrefs, base.ResolveReference(ref).String())
	}
	return hrefs, nil
}

func (c *Collector) toTargets(hrefs []string) []models.Target {
	seen := make(map[string]bool)
	targets := make([]models.Target, 0, len(hrefs))
	for _, href := range hrefs {
		target, err := c.matcher.Parse(href)
		if err != nil {
			log.Debug().Str("href", href).Msg("跳过不符合格式的链接")
			continue
		}
		if seen[target.URL] {
			continue
		}
		seen[target.URL] = true
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].URL < targets[j].URL
	})
	return targets
}

// TargetURLs 取出目标的URL
func TargetURLs(targets []models.Target) []string {
	urls := make([]string, len(targets))
	for i, t := range targets {
		urls[i] = t.URL
	}
	return urls
}

func evalNumber(ctx context.Context, page browser.Page, script string) (float64, error) {
	value, err := page.Evaluate(ctx, script)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("脚本返回值不是数字: %T", value)
	}
}
