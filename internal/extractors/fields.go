package extractors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/rs/zerolog/log"
)

// Options 字段提取选项
type Options struct {
	FieldTimeout       time.Duration // 单个字段的时间上限
	ViewSettleDelay    time.Duration // 切换到日志视图后的等待
	RestoreSettleDelay time.Duration // 切回主视图后的等待
	LogsTabs           []string      // 日志视图的按钮文字,按顺序尝试
	RestoreTabs        []string      // 切回主视图的按钮文字
}

// DefaultOptions 默认选项
func DefaultOptions() Options {
	return Options{
		FieldTimeout:       15 * time.Second,
		ViewSettleDelay:    1500 * time.Millisecond,
		RestoreSettleDelay: time.Second,
		LogsTabs:           []string{"Logs", "Log", "Output", "Console"},
		RestoreTabs:        []string{"Diff", "Overview"},
	}
}

// tabSelector 视图切换按钮
const tabSelector = `button, [role="tab"]`

// Extractor 对已加载页面执行所有字段的提取
type Extractor struct {
	chains Chains
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExtractor 创建字段提取器
func NewExtractor(chains Chains, opts Options) *Extractor {
	if opts.FieldTimeout <= 0 {
		opts.FieldTimeout = DefaultOptions().FieldTimeout
	}
	return &Extractor{chains: chains, opts: opts, sleep: Sleep}
}

// SetSleep 替换等待函数
func (e *Extractor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// Sleep 可被ctx打断的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Extract 依次提取 title, prompt, metadata, logs, summary, files, links 写入记录
// 单个字段失败只会让该字段为空;返回错误说明页面不可用或上层已取消
func (e *Extractor) Extract(ctx context.Context, page browser.Page, rec *models.Record) error {
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	if rec.Summary == nil {
		rec.Summary = make(map[string]string)
	}
	if rec.Sources == nil {
		rec.Sources = make(map[string]string)
	}

	title, err := bounded(ctx, e.opts.FieldTimeout, "title", page.Title)
	if err != nil {
		return err
	}
	rec.Title = title

	prompt, err := e.resolve(ctx, page, e.chains.Prompt)
	if err != nil {
		return err
	}
	if prompt.Found {
		rec.Prompt = prompt.Value
		rec.Sources["prompt"] = prompt.StrategyID
	}

	if err := e.extractMetadata(ctx, page, rec); err != nil {
		return err
	}

	logs, err := e.Logs(ctx, page)
	if err != nil {
		return err
	}
	if logs.Found {
		text := PlainText(logs.Markup)
		if text == "" {
			text = logs.Value
		}
		rec.Logs = &models.Logs{HTML: logs.Markup, Text: text}
		rec.Sources["logs"] = logs.StrategyID
	}

	for _, chain := range e.chains.Summary {
		res, err := e.resolve(ctx, page, chain)
		if err != nil {
			return err
		}
		if res.Found {
			rec.Summary[chain.Field] = res.Value
			rec.Sources["summary."+chain.Field] = res.StrategyID
		}
	}

	files, err := e.collect(ctx, page, e.chains.Files)
	if err != nil {
		return err
	}
	rec.FilesChanged = values(files)
	if len(files) > 0 {
		rec.Sources["files"] = files[0].StrategyID
	}

	links, err := e.collect(ctx, page, e.chains.Links)
	if err != nil {
		return err
	}
	rec.ExternalLinks = values(links)
	if len(links) > 0 {
		rec.Sources["links"] = links[0].StrategyID
	}

	return nil
}

func (e *Extractor) extractMetadata(ctx context.Context, page browser.Page, rec *models.Record) error {
	for _, chain := range e.chains.Metadata {
		res, err := e.resolve(ctx, page, chain)
		if err != nil {
			return err
		}
		if res.Found {
			rec.Metadata[chain.Field] = res.Value
			rec.Sources["metadata."+chain.Field] = res.StrategyID
		}
	}

	changes := make(map[string]string)
	for _, chain := range e.chains.Changes {
		res, err := e.resolve(ctx, page, chain)
		if err != nil {
			return err
		}
		if res.Found {
			changes[chain.Field] = res.Value
		}
	}
	if len(changes) > 0 {
		rec.Metadata[MetaChanges] = changes
	}
	return nil
}

// Logs 切换到日志视图后解析日志链,结束后尽量切回主视图
// 切换、解析与切回各自受字段时间上限约束;解析超时或失败时仍会切回,后续字段在主视图中查找
func (e *Extractor) Logs(ctx context.Context, page browser.Page) (FieldResult, error) {
	switched, err := bounded(ctx, e.opts.FieldTimeout, "logs.view", func(ctx context.Context) (bool, error) {
		return e.activate(ctx, page, e.opts.LogsTabs)
	})
	if err != nil {
		return FieldResult{}, err
	}
	if !switched {
		log.Debug().Str("field", "logs").Msg("未找到日志视图按钮,在当前视图中查找")
		return e.resolve(ctx, page, e.chains.Logs)
	}

	defer e.restore(ctx, page)
	if err := e.sleep(ctx, e.opts.ViewSettleDelay); err != nil {
		return FieldResult{}, err
	}
	return e.resolve(ctx, page, e.chains.Logs)
}

// restore 切回主视图,失败只记录日志
func (e *Extractor) restore(ctx context.Context, page browser.Page) {
	if ctx.Err() != nil {
		return
	}
	restored, err := bounded(ctx, e.opts.FieldTimeout, "logs.restore", func(ctx context.Context) (bool, error) {
		return e.activate(ctx, page, e.opts.RestoreTabs)
	})
	if err != nil {
		log.Debug().Err(err).Msg("切回主视图失败")
		return
	}
	if !restored {
		log.Warn().Msg("未能切回主视图,后续字段可能缺失")
		return
	}
	if err := e.sleep(ctx, e.opts.RestoreSettleDelay); err != nil {
		log.Debug().Err(err).Msg("切回主视图后等待被中断")
	}
}

// activate 点击第一个存在的按钮,返回是否点击成功
func (e *Extractor) activate(ctx context.Context, page browser.Page, labels []string) (bool, error) {
	for _, label := range labels {
		el, err := page.Query(ctx, browser.Selector{CSS: tabSelector, HasText: label, Exact: true})
		if err != nil {
			if fatal(ctx, err) {
				return false, err
			}
			continue
		}
		if el == nil {
			continue
		}
		if err := el.Click(ctx); err != nil {
			if fatal(ctx, err) {
				return false, err
			}
			log.Debug().Err(err).Str("tab", label).Msg("点击视图按钮失败")
			continue
		}
		return true, nil
	}
	return false, nil
}

func (e *Extractor) resolve(ctx context.Context, page browser.Page, chain Chain) (FieldResult, error) {
	return bounded(ctx, e.opts.FieldTimeout, chain.Field, func(ctx context.Context) (FieldResult, error) {
		return Resolve(ctx, page, chain)
	})
}

func (e *Extractor) collect(ctx context.Context, page browser.Page, chain Chain) ([]FieldResult, error) {
	return bounded(ctx, e.opts.FieldTimeout, chain.Field, func(ctx context.Context) ([]FieldResult, error) {
		return Collect(ctx, page, chain)
	})
}

// bounded 在字段时间上限内执行fn
// 超时或普通错误都降级为零值;能力失效和上层ctx结束才返回错误
func bounded[T any](ctx context.Context, timeout time.Duration, field string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	fieldCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("字段提取panic: %v", r)}
			}
		}()
		v, err := fn(fieldCtx)
		ch <- result{value: v, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-fieldCtx.Done():
		r = result{err: fieldCtx.Err()}
	}

	if r.err == nil {
		return r.value, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if browser.IsCapability(r.err) {
		return zero, r.err
	}
	if errors.Is(r.err, context.DeadlineExceeded) {
		log.Warn().Str("field", field).Dur("timeout", timeout).Msg("字段提取超时,按未找到处理")
	} else {
		log.Debug().Err(r.err).Str("field", field).Msg("字段提取失败,按未找到处理")
	}
	return zero, nil
}

func values(results []FieldResult) []string {
	if len(results) == 0 {
		return nil
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	return out
}
