package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/extractors"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ExecutorConfig 单个任务的执行参数
type ExecutorConfig struct {
	NavTimeout       time.Duration
	WaitUntil        browser.WaitCondition
	NavRetries       int           // 导航总尝试次数
	RetryBackoff     time.Duration // 第一次重试前的等待
	RetryBackoffStep time.Duration // 之后每次重试额外增加的等待
	SettleDelay      time.Duration // 页面加载后等待前端渲染
}

// DefaultExecutorConfig 默认参数
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		NavTimeout:       30 * time.Second,
		WaitUntil:        browser.WaitNetworkIdle,
		NavRetries:       3,
		RetryBackoff:     2 * time.Second,
		RetryBackoffStep: time.Second,
		SettleDelay:      3 * time.Second,
	}
}

// Backoff 第attempt次失败后的等待时间: 2s, 3s, 4s ...
func (c ExecutorConfig) Backoff(attempt int) time.Duration {
	return c.RetryBackoff + time.Duration(attempt-1)*c.RetryBackoffStep
}

// Executor 加载一个任务页面并提取所有字段
type Executor struct {
	config    ExecutorConfig
	extractor *extractors.Extractor
	limiter   *rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewExecutor 创建任务执行器,limiter为nil时不限制导航频率
func NewExecutor(config ExecutorConfig, extractor *extractors.Extractor, limiter *rate.Limiter) *Executor {
	if config.NavRetries < 1 {
		config.NavRetries = 1
	}
	return &Executor{
		config:    config,
		extractor: extractor,
		limiter:   limiter,
		sleep:     extractors.Sleep,
		now:       time.Now,
	}
}

// SetSleep 替换等待函数
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// NewLimiter 每秒perSecond次导航,<=0 返回nil
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Run 执行一个任务,总是返回一条记录,失败信息写入记录
func (e *Executor) Run(ctx context.Context, bctx browser.Context, target models.Target) (rec *models.Record) {
	rec = models.NewRecord(target, e.now())
	logger := log.With().Str("task_id", target.ID).Logger()
	logger.Debug().Str("state", string(models.StatePending)).Str("url", target.URL).Msg("任务开始")

	defer func() {
		if r := recover(); r != nil {
			e.fail(logger, rec, fmt.Errorf("任务执行panic: %v", r))
		}
	}()

	page, err := bctx.NewPage(ctx)
	if err != nil {
		e.fail(logger, rec, fmt.Errorf("打开标签页失败: %w", err))
		return rec
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Debug().Err(err).Msg("关闭标签页失败")
		}
	}()

	logger.Debug().Str("state", string(models.StateLoading)).Msg("加载页面")
	if err := e.load(ctx, page, target, logger); err != nil {
		e.fail(logger, rec, err)
		return rec
	}
	if err := e.sleep(ctx, e.config.SettleDelay); err != nil {
		e.fail(logger, rec, err)
		return rec
	}

	logger.Debug().Str("state", string(models.StateExtracting)).Msg("提取字段")
	if err := e.extractor.Extract(ctx, page, rec); err != nil {
		e.fail(logger, rec, fmt.Errorf("提取中断: %w", err))
		return rec
	}

	rec.Succeed()
	logger.Info().
		Str("state", string(models.StateSucceeded)).
		Bool("has_prompt", rec.HasPrompt()).
		Bool("has_logs", rec.HasLogs()).
		Msg("任务完成")
	return rec
}

// load 导航到目标页面,导航错误按线性退避重试
func (e *Executor) load(ctx context.Context, page browser.Page, target models.Target, logger zerolog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= e.config.NavRetries; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := page.Navigate(ctx, target.URL, e.config.WaitUntil, e.config.NavTimeout)
		if err == nil {
			return nil
		}
		if !browser.IsNavigation(err) {
			return err
		}
		lastErr = err

		if attempt == e.config.NavRetries {
			break
		}
		delay := e.config.Backoff(attempt)
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("导航失败,稍后重试")
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("导航%d次均失败: %w", e.config.NavRetries, lastErr)
}

func (e *Executor) fail(logger zerolog.Logger, rec *models.Record, err error) {
	rec.Fail(err)
	logger.Error().Err(err).Str("state", string(models.StateFailed)).Msg("任务失败")
}
