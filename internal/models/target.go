package models

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultTargetPattern 任务页面URL的默认格式
// 形如 https://chatgpt.com/codex/tasks/task_e_682bcb3a96a88323b415a5326b690b26
const DefaultTargetPattern = `^https?://[^/]+/codex/tasks/task_e_[0-9a-fA-F]+$`

// TaskState 任务执行状态机的状态
type TaskState string

const (
	StatePending    TaskState = "pending"    // 待执行
	StateLoading    TaskState = "loading"    // 加载页面中
	StateExtracting TaskState = "extracting" // 提取字段中
	StateSucceeded  TaskState = "succeeded"  // 成功
	StateFailed     TaskState = "failed"     // 失败
)

// Target 一个待提取的任务页面
type Target struct {
	URL string `json:"url" yaml:"url"` // 页面地址
	ID  string `json:"id" yaml:"id"`   // URL最后一段路径,作为稳定标识
}

// TargetMatcher 目标URL格式校验器
type TargetMatcher struct {
	pattern *regexp.Regexp
}

// NewTargetMatcher 编译目标URL正则,空字符串使用默认格式
func NewTargetMatcher(pattern string) (*TargetMatcher, error) {
	if pattern == "" {
		pattern = DefaultTargetPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("目标URL正则无效: %w", err)
	}
	return &TargetMatcher{pattern: re}, nil
}

// Match 判断URL是否符合目标格式
func (m *TargetMatcher) Match(rawURL string) bool {
	return m.pattern.MatchString(rawURL)
}

// Parse 校验URL并构造Target
func (m *TargetMatcher) Parse(rawURL string) (Target, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := ValidateURL(rawURL); err != nil {
		return Target{}, err
	}
	if !m.Match(rawURL) {
		return Target{}, fmt.Errorf("URL不符合任务页面格式: %s", rawURL)
	}
	id, err := TargetID(rawURL)
	if err != nil {
		return Target{}, err
	}
	return Target{URL: rawURL, ID: id}, nil
}

// TargetID 从URL中取出最后一段路径作为任务ID
func TargetID(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("无效的URL: %w", err)
	}
	id := path.Base(strings.TrimSuffix(parsed.Path, "/"))
	if id == "" || id == "." || id == "/" {
		return "", fmt.Errorf("URL缺少任务ID: %s", rawURL)
	}
	return id, nil
}

// ParseTarget 按给定正则校验单个URL,pattern为空时使用默认格式
func ParseTarget(rawURL, pattern string) (Target, error) {
	m, err := NewTargetMatcher(pattern)
	if err != nil {
		return Target{}, err
	}
	return m.Parse(rawURL)
}
