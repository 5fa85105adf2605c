package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/core"
	"github.com/RecoveryAshes/codexharvest/internal/extractors"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/RecoveryAshes/codexharvest/internal/output"
	"github.com/RecoveryAshes/codexharvest/internal/utils"
	"github.com/spf13/cobra"
)

// 提取参数
var (
	urlFile     string
	outputDir   string
	concurrency int
	batchDelay  time.Duration
	endpoint    string
	resume      bool
	format      string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [url...]",
	Short: "提取任务页面",
	Long: `在已登录的浏览器会话中打开每个任务页面,提取提示词、元数据、日志等字段,
每个任务保存为一条记录,有日志时额外生成日志报告,最后写入运行摘要。`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含任务URL列表的文件路径")
	scrapeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "输出目录 (默认 codex_tasks)")
	scrapeCmd.Flags().IntVar(&concurrency, "concurrency", 0, "每批同时打开的任务页数 (默认 2)")
	scrapeCmd.Flags().DurationVar(&batchDelay, "batch-delay", 0, "批与批之间的等待 (默认 2s)")
	scrapeCmd.Flags().StringVar(&endpoint, "endpoint", "", "浏览器调试地址 (默认 "+browser.DefaultEndpoint+")")
	scrapeCmd.Flags().BoolVar(&resume, "resume", false, "跳过输出目录中已成功的任务")
	scrapeCmd.Flags().StringVar(&format, "format", "", "记录格式 (json|yaml)")
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	delay := time.Duration(-1)
	if cmd.Flags().Changed("batch-delay") {
		delay = batchDelay
	}
	cfg.MergeCLIFlags(outputDir, concurrency, delay, endpoint, resume, format)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	targets, err := loadTargets(cfg, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	headerManager, err := newHeaderManager(cfg)
	if err != nil {
		return err
	}

	session, err := browser.ConnectRod(ctx, cfg.RodOptions(headerManager))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNoSession, err)
	}
	defer session.Close()

	extractor := extractors.NewExtractor(extractors.DefaultChains(), cfg.ExtractorOptions())
	executor := core.NewExecutor(cfg.ExecutorConfig(), extractor, core.NewLimiter(cfg.Scrape.RateLimit))

	sink, err := output.NewSink(cfg.Output.Dir, cfg.Output.Format, cfg.Output.ReportFormat)
	if err != nil {
		return err
	}

	orchConfig := cfg.OrchestratorConfig()
	orchConfig.ShowProgress = !verbose
	orchestrator := core.NewOrchestrator(orchConfig, session, executor, sink)

	utils.Infof("运行ID: %s, 输出目录: %s", orchestrator.RunID(), sink.Dir())
	start := time.Now()
	result, err := orchestrator.Run(ctx, targets)
	if result != nil {
		core.PrintSummary(result.Summary, time.Since(start))
	}
	if errors.Is(err, context.Canceled) {
		utils.Warn("收到中断信号, 已保存完成的任务, 可使用 --resume 继续")
		return nil
	}
	if err != nil {
		return err
	}

	utils.Info("✨ 提取任务完成!")
	return nil
}

// loadTargets 合并 -f 文件与命令行参数中的URL,保持顺序去重
func loadTargets(cfg *core.Config, args []string) ([]models.Target, error) {
	matcher, err := models.NewTargetMatcher(cfg.Targets.Pattern)
	if err != nil {
		return nil, err
	}

	var targets []models.Target
	if urlFile != "" {
		fromFile, err := utils.ReadTargetsFromFile(urlFile, matcher)
		if err != nil {
			return nil, fmt.Errorf("读取URL文件失败: %w", err)
		}
		targets = append(targets, fromFile...)
	}
	for _, arg := range args {
		target, err := matcher.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("无效的任务URL: %w", err)
		}
		targets = append(targets, target)
	}

	seen := make(map[string]bool, len(targets))
	unique := targets[:0]
	for _, t := range targets {
		if seen[t.URL] {
			continue
		}
		seen[t.URL] = true
		unique = append(unique, t)
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("没有要提取的任务, 请通过 -f 或参数提供任务URL")
	}
	return unique, nil
}

// newHeaderManager 加载并校验自定义头部
func newHeaderManager(cfg *core.Config) (*core.HeaderManager, error) {
	headerManager, err := core.NewHeaderManager(cfg.Browser.HeadersFile, headers)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	if _, err := headerManager.GetHeaders(); err != nil {
		return nil, fmt.Errorf("HTTP头部配置无效: %w", err)
	}
	utils.Debugf("有效HTTP头部: %v", headerManager.GetSafeHeaders())
	return headerManager, nil
}
