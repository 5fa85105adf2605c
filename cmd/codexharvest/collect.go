package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/core"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/RecoveryAshes/codexharvest/internal/utils"
	"github.com/spf13/cobra"
)

var (
	listingURL  string
	collectFile string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "从任务列表页收集任务URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if listingURL != "" {
			cfg.Targets.ListingURL = listingURL
		}
		if endpoint != "" {
			cfg.Browser.Endpoint = endpoint
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("配置无效: %w", err)
		}

		matcher, err := models.NewTargetMatcher(cfg.Targets.Pattern)
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

		utils.Infof("🔍 打开列表页: %s", cfg.CollectorConfig().ListingURL)
		targets, err := core.NewCollector(cfg.CollectorConfig(), matcher).Collect(ctx, session)
		if err != nil {
			return err
		}

		if err := utils.WriteLines(collectFile, core.TargetURLs(targets)); err != nil {
			return err
		}
		utils.Infof("✅ 收集到 %d 个任务URL, 已写入 %s", len(targets), collectFile)
		return nil
	},
}

func init() {
	collectCmd.Flags().StringVar(&listingURL, "listing-url", "", "任务列表页地址 (默认 "+core.DefaultListingURL+")")
	collectCmd.Flags().StringVarP(&collectFile, "output", "o", "task_urls.txt", "URL列表输出文件")
	collectCmd.Flags().StringVar(&endpoint, "endpoint", "", "浏览器调试地址")
}
