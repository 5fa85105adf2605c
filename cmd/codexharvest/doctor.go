package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "检查运行环境: 浏览器、调试端口、头部配置与输出目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if endpoint != "" {
			cfg.Browser.Endpoint = endpoint
		}

		fmt.Println("==============================================")
		fmt.Println("  codexharvest 环境检查")
		fmt.Println("==============================================")

		allOK := true
		fmt.Printf("✅ Go版本: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

		if path, ok := launcher.LookPath(); ok {
			fmt.Printf("✅ 浏览器: %s\n", path)
		} else if cfg.Browser.Launch && cfg.Browser.Bin == "" {
			fmt.Println("❌ 未找到浏览器, 请安装Chrome或通过 browser.bin 指定路径")
			allOK = false
		} else {
			fmt.Println("⚠️  本机未找到浏览器, 只能连接已运行的调试端口")
		}

		if err := cfg.Validate(); err != nil {
			fmt.Printf("❌ 配置无效: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 配置有效")
		}

		if headerManager, err := newHeaderManager(cfg); err != nil {
			fmt.Printf("❌ %v\n", err)
			allOK = false
		} else {
			fmt.Printf("✅ HTTP头部: %d个\n", len(headerManager.GetMergedHeaders()))
		}

		if err := checkWritable(cfg.Output.Dir); err != nil {
			fmt.Printf("❌ 输出目录不可写: %v\n", err)
			allOK = false
		} else {
			fmt.Printf("✅ 输出目录: %s\n", cfg.Output.Dir)
		}

		if cfg.Browser.Launch {
			fmt.Println("ℹ️  browser.launch 已开启, 跳过调试端口检查")
		} else if err := checkSession(cmd.Context(), cfg.Browser.Endpoint); err != nil {
			fmt.Printf("❌ 浏览器会话不可用: %v\n", err)
			fmt.Println("   请以远程调试模式启动浏览器并登录: chrome --remote-debugging-port=9222")
			allOK = false
		} else {
			fmt.Printf("✅ 浏览器会话可用: %s\n", cfg.Browser.Endpoint)
		}

		fmt.Println("==============================================")
		if !allOK {
			return fmt.Errorf("环境检查未通过, 请解决上述问题")
		}
		fmt.Println("✅ 环境检查通过")
		return nil
	},
}

// checkSession 连接调试端口并确认默认上下文可用
func checkSession(ctx context.Context, endpoint string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	session, err := browser.ConnectRod(ctx, browser.RodOptions{Endpoint: endpoint})
	if err != nil {
		return err
	}
	defer session.Close()

	if _, ok := session.ActiveContext(); !ok {
		return fmt.Errorf("没有活动的浏览上下文")
	}
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func init() {
	doctorCmd.Flags().StringVar(&endpoint, "endpoint", "", "浏览器调试地址")
}
