package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/RecoveryAshes/codexharvest/internal/utils"
	"gopkg.in/yaml.v3"
)

// 记录文件格式
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// 日志报告格式
const (
	ReportHTML     = "html"
	ReportMarkdown = "md"
)

// SummaryName 摘要文件名(不含扩展名)
const SummaryName = "summary"

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// PersistenceError 写入或读取输出文件失败,只影响这一条记录
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

// Error 实现error接口
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s失败 [%s]: %v", e.Op, e.Path, e.Err)
}

// Unwrap 支持errors.Unwrap
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Sink 把记录、日志报告与摘要写入输出目录
// 同一记录重复保存得到字节一致的文件
type Sink struct {
	dir      string
	format   string
	report   string
	renderer *ReportRenderer
}

// NewSink 创建输出目录并返回Sink
func NewSink(dir, format, reportFormat string) (*Sink, error) {
	if format == "" {
		format = FormatJSON
	}
	if reportFormat == "" {
		reportFormat = ReportHTML
	}
	if format != FormatJSON && format != FormatYAML {
		return nil, fmt.Errorf("不支持的输出格式: %s", format)
	}
	if reportFormat != ReportHTML && reportFormat != ReportMarkdown {
		return nil, fmt.Errorf("不支持的报告格式: %s", reportFormat)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &PersistenceError{Op: "创建输出目录", Path: dir, Err: err}
	}
	return &Sink{
		dir:      dir,
		format:   format,
		report:   reportFormat,
		renderer: NewReportRenderer(),
	}, nil
}

// Dir 输出目录
func (s *Sink) Dir() string {
	return s.dir
}

// RecordPath 记录文件路径
func (s *Sink) RecordPath(taskID string) string {
	return filepath.Join(s.dir, taskID+"."+s.format)
}

// ReportPath 日志报告路径
func (s *Sink) ReportPath(taskID string) string {
	return filepath.Join(s.dir, taskID+"_logs."+s.report)
}

// SummaryPath 摘要文件路径
func (s *Sink) SummaryPath() string {
	return filepath.Join(s.dir, SummaryName+"."+s.format)
}

// Save 写入记录文件;有日志标记时同时写入日志报告,否则删除旧报告
func (s *Sink) Save(rec *models.Record) error {
	if !taskIDPattern.MatchString(rec.TaskID) {
		return &PersistenceError{Op: "保存记录", Path: rec.TaskID, Err: errors.New("任务ID包含非法字符")}
	}

	data, err := s.encode(rec)
	if err != nil {
		return &PersistenceError{Op: "编码记录", Path: rec.TaskID, Err: err}
	}
	if err := writeFile(s.RecordPath(rec.TaskID), data); err != nil {
		return err
	}

	reportPath := s.ReportPath(rec.TaskID)
	if rec.Logs == nil || rec.Logs.HTML == "" {
		if err := os.Remove(reportPath); err != nil && !os.IsNotExist(err) {
			utils.Warnf("删除旧日志报告失败 [%s]: %v", reportPath, err)
		}
		return nil
	}

	var report []byte
	if s.report == ReportMarkdown {
		report, err = s.renderer.Markdown(rec)
	} else {
		report, err = s.renderer.HTML(rec)
	}
	if err != nil {
		return &PersistenceError{Op: "生成日志报告", Path: reportPath, Err: err}
	}
	return writeFile(reportPath, report)
}

// SaveSummary 覆盖写入摘要
func (s *Sink) SaveSummary(summary models.BatchSummary) error {
	data, err := s.encode(summary)
	if err != nil {
		return &PersistenceError{Op: "编码摘要", Path: s.SummaryPath(), Err: err}
	}
	return writeFile(s.SummaryPath(), data)
}

// Load 读取已保存的记录
func (s *Sink) Load(taskID string) (*models.Record, error) {
	if !taskIDPattern.MatchString(taskID) {
		return nil, &PersistenceError{Op: "读取记录", Path: taskID, Err: errors.New("任务ID包含非法字符")}
	}
	path := s.RecordPath(taskID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &PersistenceError{Op: "读取记录", Path: path, Err: err}
	}

	var rec models.Record
	if s.format == FormatYAML {
		err = yaml.Unmarshal(data, &rec)
	} else {
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "解析记录", Path: path, Err: err}
	}
	return &rec, nil
}

// encode map按键排序,两种格式的输出都是确定的
func (s *Sink) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if s.format == FormatYAML {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFile 先写临时文件再改名,中途失败不会留下半个文件
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &PersistenceError{Op: "写入文件", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Op: "写入文件", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "写入文件", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "写入文件", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "写入文件", Path: path, Err: err}
	}

	utils.Debugf("保存文件: %s", path)
	return nil
}
