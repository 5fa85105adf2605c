package models

import (
	"encoding/json"
	"time"
)

// RecordStatus 记录的最终状态
type RecordStatus string

const (
	RecordSuccess RecordStatus = "success"
	RecordFailed  RecordStatus = "failed"
)

// Logs 日志视图中提取的内容
type Logs struct {
	HTML string `json:"html" yaml:"html"` // 原始渲染标记
	Text string `json:"text" yaml:"text"` // 纯文本
}

// Record 单个任务页面的提取结果
//
// Status为failed时只有TaskID、URL、Error和ScrapedAt有效,其余字段必须为空。
type Record struct {
	TaskID        string            `json:"task_id" yaml:"task_id"`
	URL           string            `json:"url" yaml:"url"`
	Title         string            `json:"title,omitempty" yaml:"title,omitempty"`
	Prompt        string            `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Summary       map[string]string `json:"summary_data,omitempty" yaml:"summary_data,omitempty"`
	FilesChanged  []string          `json:"files_changed,omitempty" yaml:"files_changed,omitempty"`
	ExternalLinks []string          `json:"pr_links,omitempty" yaml:"pr_links,omitempty"`
	Logs          *Logs             `json:"logs,omitempty" yaml:"logs,omitempty"`
	Sources       map[string]string `json:"sources,omitempty" yaml:"sources,omitempty"` // 字段 -> 命中的策略ID
	Status        RecordStatus      `json:"status" yaml:"status"`
	Error         string            `json:"error,omitempty" yaml:"error,omitempty"`
	ScrapedAt     time.Time         `json:"scraped_at" yaml:"scraped_at"`
}

// NewRecord 为目标创建一条空记录
func NewRecord(target Target, now time.Time) *Record {
	return &Record{
		TaskID:    target.ID,
		URL:       target.URL,
		Metadata:  make(map[string]any),
		Summary:   make(map[string]string),
		Sources:   make(map[string]string),
		ScrapedAt: now,
	}
}

// Fail 把记录标记为失败并清空所有字段数据
func (r *Record) Fail(err error) {
	r.Title = ""
	r.Prompt = ""
	r.Metadata = nil
	r.Summary = nil
	r.FilesChanged = nil
	r.ExternalLinks = nil
	r.Logs = nil
	r.Sources = nil
	r.Status = RecordFailed
	if err != nil {
		r.Error = err.Error()
	}
}

// Succeed 标记记录为成功,空的集合字段置为nil以保证序列化输出稳定
func (r *Record) Succeed() {
	r.Status = RecordSuccess
	r.Error = ""
	if len(r.Metadata) == 0 {
		r.Metadata = nil
	}
	if len(r.Summary) == 0 {
		r.Summary = nil
	}
	if len(r.Sources) == 0 {
		r.Sources = nil
	}
}

// Succeeded 是否成功
func (r *Record) Succeeded() bool {
	return r.Status == RecordSuccess
}

// HasPrompt 是否提取到提示词
func (r *Record) HasPrompt() bool {
	return r.Prompt != ""
}

// HasLogs 是否提取到日志
func (r *Record) HasLogs() bool {
	return r.Logs != nil && (r.Logs.HTML != "" || r.Logs.Text != "")
}

// ToJSON 序列化为JSON
func (r *Record) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *Record) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
