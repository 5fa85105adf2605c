package models

import (
	"sort"
	"time"
)

// SummaryLine 摘要中每个任务的一行
type SummaryLine struct {
	TaskID    string       `json:"task_id" yaml:"task_id"`
	Title     string       `json:"title,omitempty" yaml:"title,omitempty"`
	URL       string       `json:"url" yaml:"url"`
	Status    RecordStatus `json:"status" yaml:"status"`
	HasPrompt bool         `json:"has_prompt" yaml:"has_prompt"`
	HasLogs   bool         `json:"has_logs" yaml:"has_logs"`
	Error     string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// BatchSummary 一次运行的汇总
type BatchSummary struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	GeneratedAt time.Time     `json:"generated_at" yaml:"generated_at"`
	Total       int           `json:"total_tasks" yaml:"total_tasks"`
	Succeeded   int           `json:"successful" yaml:"successful"`
	Failed      int           `json:"failed" yaml:"failed"`
	WithPrompt  int           `json:"with_prompt" yaml:"with_prompt"`
	WithLogs    int           `json:"with_logs" yaml:"with_logs"`
	Tasks       []SummaryLine `json:"tasks" yaml:"tasks"`
}

// BuildSummary 从完整的记录集合重新计算摘要
// 纯函数,不依赖任何累积状态;行按TaskID排序
func BuildSummary(records []*Record) BatchSummary {
	summary := BatchSummary{
		Tasks: make([]SummaryLine, 0, len(records)),
	}

	for _, r := range records {
		if r == nil {
			continue
		}
		summary.Total++
		if r.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		if r.HasPrompt() {
			summary.WithPrompt++
		}
		if r.HasLogs() {
			summary.WithLogs++
		}

		summary.Tasks = append(summary.Tasks, SummaryLine{
			TaskID:    r.TaskID,
			Title:     r.Title,
			URL:       r.URL,
			Status:    r.Status,
			HasPrompt: r.HasPrompt(),
			HasLogs:   r.HasLogs(),
			Error:     r.Error,
		})
	}

	sort.SliceStable(summary.Tasks, func(i, j int) bool {
		return summary.Tasks[i].TaskID < summary.Tasks[j].TaskID
	})

	return summary
}

// FailedLines 返回所有失败任务的行
func (s BatchSummary) FailedLines() []SummaryLine {
	failed := make([]SummaryLine, 0, s.Failed)
	for _, line := range s.Tasks {
		if line.Status != RecordSuccess {
			failed = append(failed, line)
		}
	}
	return failed
}
