package main

import (
	"fmt"
	"os"

	"github.com/RecoveryAshes/codexharvest/internal/core"
	"github.com/RecoveryAshes/codexharvest/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 全局参数
var (
	configFile string
	verbose    bool
	logLevel   string
	headers    []string // 自定义HTTP请求头

	appConfig *core.Config
)

var rootCmd = &cobra.Command{
	Use:   "codexharvest",
	Short: "Codex任务页面提取工具",
	Long: `codexharvest - 从已登录的浏览器会话中批量提取Codex任务页面

支持:
  • 多策略选择器,页面结构变化时自动降级
  • 切换到日志视图提取运行日志并生成报告
  • 分批并发、失败重试与断点续跑
  • 自定义HTTP请求头

使用前请以远程调试模式启动浏览器并登录:
  chrome --remote-debugging-port=9222

示例:
  # 收集归档列表中的所有任务URL
  codexharvest collect -o task_urls.txt

  # 批量提取
  codexharvest scrape -f task_urls.txt -o codex_tasks

  # 离线调试已保存的页面
  codexharvest inspect page.html --logs logs.html

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		logConfig := config.LogConfig()
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		appConfig = config
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("codexharvest %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")

	rootCmd.AddCommand(scrapeCmd, collectCmd, inspectCmd, doctorCmd, validateConfigCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
