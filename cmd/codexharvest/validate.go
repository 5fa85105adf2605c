package main

import (
	"fmt"
	"sort"

	"github.com/RecoveryAshes/codexharvest/internal/config"
	"github.com/RecoveryAshes/codexharvest/internal/utils"
	"github.com/spf13/cobra"
)

var initHeaders bool

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "验证配置文件与HTTP头部配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig

		if initHeaders {
			if err := config.NewHeaderConfigLoader(cfg.Browser.HeadersFile).EnsureConfigExists(); err != nil {
				return err
			}
		}

		utils.Info("🔍 验证配置...")
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("配置验证失败: %w", err)
		}

		headerManager, err := newHeaderManager(cfg)
		if err != nil {
			return err
		}

		safeHeaders := headerManager.GetSafeHeaders()
		names := make([]string, 0, len(safeHeaders))
		for name := range safeHeaders {
			names = append(names, name)
		}
		sort.Strings(names)

		utils.Info("✅ 配置验证通过!")
		utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
		for _, name := range names {
			utils.Infof("  %s: %s", name, safeHeaders[name])
		}
		return nil
	},
}

func init() {
	validateConfigCmd.Flags().BoolVar(&initHeaders, "init", false, "头部配置文件不存在时生成模板")
}
