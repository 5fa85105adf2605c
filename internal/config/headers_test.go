package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RecoveryAshes/codexharvest/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "headers.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试配置失败: %v", err)
	}
	return path
}

func TestHeaderConfigLoader_LoadConfig(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		want      map[string]string
		expectErr bool
	}{
		{
			name: "加载已存在的配置文件",
			content: `headers:
  Accept-Language: "en-GB,en;q=0.8"
  X-Custom: "test value"
`,
			want: map[string]string{"Accept-Language": "en-GB,en;q=0.8", "X-Custom": "test value"},
		},
		{name: "空文件", content: "", want: map[string]string{}},
		{name: "只有headers键", content: "headers:", want: map[string]string{}},
		{
			name: "YAML格式错误",
			content: `headers:
  Accept-Language: "en-US
  X-Custom: missing quote
`,
			expectErr: true,
		},
		{name: "未知字段", content: "header:\n  X-Custom: v\n", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewHeaderConfigLoader(writeConfig(t, tt.content)).LoadConfig()
			if (err != nil) != tt.expectErr {
				t.Fatalf("期望错误=%v, 实际错误=%v", tt.expectErr, err)
			}
			if tt.expectErr {
				var cfgErr *models.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("错误类型 = %T, 期望 *models.ConfigError", err)
				}
				return
			}
			if cfg.Headers == nil {
				t.Fatal("Headers map应该被初始化")
			}
			if len(cfg.Headers) != len(tt.want) {
				t.Errorf("头部数量 = %d, 期望 %d", len(cfg.Headers), len(tt.want))
			}
			for name, value := range tt.want {
				if cfg.Headers[name] != value {
					t.Errorf("%s = %q, 期望 %q", name, cfg.Headers[name], value)
				}
			}
		})
	}
}

func TestHeaderConfigLoader_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexist", "headers.yaml")
	loader := NewHeaderConfigLoader(path)

	cfg, err := loader.LoadConfig()
	if err != nil {
		t.Fatalf("文件不存在时应返回空配置, 得到错误: %v", err)
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("头部 = %v, 期望为空", cfg.Headers)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("加载配置不应自动生成文件")
	}
}

func TestHeaderConfigLoader_EnsureConfigExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexist", "headers.yaml")
	loader := NewHeaderConfigLoader(path)

	if err := loader.EnsureConfigExists(); err != nil {
		t.Fatalf("生成模板失败: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("模板未生成: %v", err)
	}
	if !strings.Contains(string(data), "headers:") {
		t.Error("模板应包含headers键")
	}

	// 模板本身必须能被加载
	cfg, err := loader.LoadConfig()
	if err != nil {
		t.Fatalf("加载模板失败: %v", err)
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("模板不应包含启用的头部: %v", cfg.Headers)
	}

	// 已存在时不覆盖
	if err := os.WriteFile(path, []byte("headers:\n  X-Keep: yes\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loader.EnsureConfigExists(); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), "X-Keep") {
		t.Error("已存在的配置文件不应被覆盖")
	}
}

func TestHeaderConfigLoader_FileTooLarge(t *testing.T) {
	path := writeConfig(t, strings.Repeat("#", MaxConfigFileSize+1))
	loader := NewHeaderConfigLoader(path)

	if err := loader.ValidateFileSize(); err == nil {
		t.Error("超大配置文件应该被拒绝")
	}
	if _, err := loader.LoadConfig(); err == nil {
		t.Error("超大配置文件不应被加载")
	}
}

func TestNewHeaderConfigLoader_DefaultPath(t *testing.T) {
	if got := NewHeaderConfigLoader("").Path(); got != DefaultConfigFile {
		t.Errorf("默认路径 = %q, 期望 %q", got, DefaultConfigFile)
	}
}
