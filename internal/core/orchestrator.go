package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/extractors"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/RecoveryAshes/codexharvest/internal/utils"
	"github.com/schollz/progressbar/v3"
)

// ErrNoSession 没有可用的浏览器会话
var ErrNoSession = errors.New("没有可用的浏览器会话,请确认浏览器已以远程调试模式启动并已登录")

// RecordSink 记录持久化
type RecordSink interface {
	Save(rec *models.Record) error
	SaveSummary(summary models.BatchSummary) error
	Load(taskID string) (*models.Record, error)
}

// OrchestratorConfig 调度参数
type OrchestratorConfig struct {
	Concurrency  int           // 每批同时执行的任务数
	BatchDelay   time.Duration // 批与批之间的等待
	Adaptive     bool          // 按系统资源进一步限制每批大小
	Resume       bool          // 跳过已成功保存的任务
	ShowProgress bool
}

// RunResult 一次运行的结果
type RunResult struct {
	Records []*models.Record // 本次执行顺序(批内按完成顺序),续跑跳过的记录在最前
	Summary models.BatchSummary
	Skipped int
}

// Orchestrator 分批并发执行任务
type Orchestrator struct {
	config   OrchestratorConfig
	session  browser.Session
	executor *Executor
	sink     RecordSink
	monitor  *ResourceMonitor
	runID    string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewOrchestrator 创建调度器,sink为nil时不落盘
func NewOrchestrator(config OrchestratorConfig, session browser.Session, executor *Executor, sink RecordSink) *Orchestrator {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	o := &Orchestrator{
		config:   config,
		session:  session,
		executor: executor,
		sink:     sink,
		runID:    models.NewRunID(),
		sleep:    extractors.Sleep,
		now:      time.Now,
	}
	if config.Adaptive {
		o.monitor = NewResourceMonitor(DefaultResourceMonitorConfig())
	}
	return o
}

// SetSleep 替换批间等待函数
func (o *Orchestrator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	o.sleep = fn
}

// SetResourceMonitor 替换资源监控器
func (o *Orchestrator) SetResourceMonitor(monitor *ResourceMonitor) {
	o.monitor = monitor
}

// RunID 本次运行ID
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run 执行所有目标
// 没有可用会话时返回ErrNoSession且不执行任何任务;ctx取消后不再调度新批次,返回已完成的结果与ctx错误
func (o *Orchestrator) Run(ctx context.Context, targets []models.Target) (*RunResult, error) {
	if o.session == nil {
		return nil, ErrNoSession
	}
	bctx, ok := o.session.ActiveContext()
	if !ok {
		return nil, ErrNoSession
	}

	result := &RunResult{}
	pending := targets
	if o.config.Resume {
		pending = o.skipCompleted(targets, result)
	}

	utils.Infof("🚀 开始提取: %d个任务 (跳过%d个), 并发%d, 批间隔%s",
		len(pending), result.Skipped, o.config.Concurrency, o.config.BatchDelay)

	var bar *progressbar.ProgressBar
	if o.config.ShowProgress && len(pending) > 0 {
		bar = utils.NewProgressBar(len(pending), "提取任务")
	}

	var runErr error
	batchNum := 0
	for start := 0; start < len(pending); {
		if err := ctx.Err(); err != nil {
			utils.Warnf("运行被取消, 剩余%d个任务未执行", len(pending)-start)
			runErr = err
			break
		}

		size := o.batchSize()
		end := min(start+size, len(pending))
		batchNum++
		utils.Debugf("批次 %d: 任务 %d-%d (并发 %d)", batchNum, start+1, end, size)

		batch := o.runBatch(ctx, bctx, pending[start:end], bar)
		result.Records = append(result.Records, batch...)
		o.saveSummary(result.Records)
		start = end

		if start < len(pending) && o.config.BatchDelay > 0 {
			if err := o.sleep(ctx, o.config.BatchDelay); err != nil {
				utils.Warnf("批间等待被中断, 剩余%d个任务未执行", len(pending)-start)
				runErr = err
				break
			}
		}
	}

	result.Summary = o.buildSummary(result.Records)
	return result, runErr
}

// skipCompleted 续跑时载入已成功的记录,返回仍需执行的目标
func (o *Orchestrator) skipCompleted(targets []models.Target, result *RunResult) []models.Target {
	if o.sink == nil {
		return targets
	}
	pending := make([]models.Target, 0, len(targets))
	for _, t := range targets {
		rec, err := o.sink.Load(t.ID)
		if err == nil && rec.Succeeded() {
			result.Records = append(result.Records, rec)
			result.Skipped++
			continue
		}
		pending = append(pending, t)
	}
	return pending
}

// batchSize 本批大小,开启自适应时受资源监控器限制
func (o *Orchestrator) batchSize() int {
	size := o.config.Concurrency
	if o.monitor != nil {
		if limit := o.monitor.CalculateMaxPages(); limit < size {
			utils.Debugf("资源受限, 本批并发降为 %d (%s)", limit, o.monitor.Status())
			size = limit
		}
	}
	return size
}

// runBatch 并发执行一批任务并等待全部结束,结果按完成顺序返回
func (o *Orchestrator) runBatch(ctx context.Context, bctx browser.Context, batch []models.Target, bar *progressbar.ProgressBar) []*models.Record {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		records = make([]*models.Record, 0, len(batch))
	)

	for _, target := range batch {
		wg.Add(1)
		go func(target models.Target) {
			defer wg.Done()

			rec := o.executor.Run(ctx, bctx, target)
			if o.sink != nil {
				if err := o.sink.Save(rec); err != nil {
					utils.Errorf("保存记录失败 [%s]: %v", rec.TaskID, err)
				}
			}

			mu.Lock()
			records = append(records, rec)
			if bar != nil {
				bar.Add(1)
			}
			mu.Unlock()
		}(target)
	}

	wg.Wait()
	return records
}

func (o *Orchestrator) buildSummary(records []*models.Record) models.BatchSummary {
	summary := models.BuildSummary(records)
	summary.RunID = o.runID
	summary.GeneratedAt = o.now()
	return summary
}

// saveSummary 每批结束后用全部记录重写摘要
func (o *Orchestrator) saveSummary(records []*models.Record) {
	if o.sink == nil {
		return
	}
	if err := o.sink.SaveSummary(o.buildSummary(records)); err != nil {
		utils.Errorf("保存摘要失败: %v", err)
	}
}

// PrintSummary 打印运行摘要
func PrintSummary(summary models.BatchSummary, elapsed time.Duration) {
	utils.Info("==================================================")
	utils.Info("📊 提取摘要")
	utils.Info("==================================================")
	utils.Infof("总任务数: %d", summary.Total)
	utils.Infof("✅ 成功: %d", summary.Succeeded)
	utils.Infof("❌ 失败: %d", summary.Failed)
	utils.Infof("📝 含提示词: %d", summary.WithPrompt)
	utils.Infof("📜 含日志: %d", summary.WithLogs)
	utils.Infof("⏱️  总耗时: %.2f秒", elapsed.Seconds())
	utils.Info("==================================================")

	if summary.Failed > 0 {
		utils.Warn("失败的任务:")
		for _, line := range summary.FailedLines() {
			utils.Warnf("  - %s: %s", line.URL, line.Error)
		}
	}
}
