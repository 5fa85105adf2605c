package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/extractors"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/spf13/cobra"
)

var (
	inspectLogs string
	inspectURL  string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <page.html>",
	Short: "对已保存的任务页面HTML运行提取,用于调试选择器",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mainHTML, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("读取页面失败: %w", err)
		}

		doc := browser.Document{HTML: string(mainHTML)}
		if inspectLogs != "" {
			logs, err := os.ReadFile(inspectLogs)
			if err != nil {
				return fmt.Errorf("读取日志视图失败: %w", err)
			}
			doc.Views = map[string]string{"Logs": string(logs), "Diff": string(mainHTML)}
		}

		page, err := browser.NewHTMLPage(doc)
		if err != nil {
			return err
		}
		defer page.Close()

		target := inspectTarget(args[0])
		rec := models.NewRecord(target, time.Now())

		opts := appConfig.ExtractorOptions()
		opts.ViewSettleDelay = 0
		opts.RestoreSettleDelay = 0
		if err := extractors.NewExtractor(extractors.DefaultChains(), opts).Extract(context.Background(), page, rec); err != nil {
			rec.Fail(err)
		} else {
			rec.Succeed()
		}

		data, err := rec.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// inspectTarget 优先使用 --url,否则以文件名作为任务ID
func inspectTarget(path string) models.Target {
	if inspectURL != "" {
		if id, err := models.TargetID(inspectURL); err == nil {
			return models.Target{URL: inspectURL, ID: id}
		}
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return models.Target{URL: "file://" + path, ID: id}
}

func init() {
	inspectCmd.Flags().StringVar(&inspectLogs, "logs", "", "点击Logs后的页面HTML")
	inspectCmd.Flags().StringVar(&inspectURL, "url", "", "页面原始URL,用于记录中的task_id")
}
