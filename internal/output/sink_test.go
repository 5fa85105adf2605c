package output

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/models"
)

func sampleRecord(id string, withLogs bool) *models.Record {
	rec := models.NewRecord(models.Target{ID: id, URL: "https://chatgpt.com/codex/tasks/" + id},
		time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC))
	rec.Title = "Fix flaky login test"
	rec.Prompt = "Fix <b>the</b> login test"
	rec.Metadata["repository"] = "ezyang/codex-test"
	rec.Metadata["date"] = "May 20"
	rec.Metadata["changes"] = map[string]string{"additions": "+12", "deletions": "-3"}
	rec.Summary["summary"] = "waited for cookie"
	rec.FilesChanged = []string{"tests/test_login.py"}
	if withLogs {
		rec.Logs = &models.Logs{
			HTML: `<div class="line">⠙ Building</div><script>alert(1)</script><div onclick="x()">done</div>`,
			Text: "⠙ Building\ndone",
		}
	}
	rec.Succeed()
	return rec
}

func TestSaveIdempotent(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatYAML} {
		t.Run(format, func(t *testing.T) {
			sink, err := NewSink(t.TempDir(), format, ReportHTML)
			if err != nil {
				t.Fatal(err)
			}
			rec := sampleRecord("task_e_1", true)

			if err := sink.Save(rec); err != nil {
				t.Fatalf("第一次保存失败: %v", err)
			}
			first, _ := os.ReadFile(sink.RecordPath("task_e_1"))
			firstReport, _ := os.ReadFile(sink.ReportPath("task_e_1"))

			if err := sink.Save(rec); err != nil {
				t.Fatalf("第二次保存失败: %v", err)
			}
			second, _ := os.ReadFile(sink.RecordPath("task_e_1"))
			secondReport, _ := os.ReadFile(sink.ReportPath("task_e_1"))

			if !bytes.Equal(first, second) || !bytes.Equal(firstReport, secondReport) {
				t.Error("重复保存的文件内容应完全一致")
			}

			entries, _ := os.ReadDir(sink.Dir())
			if len(entries) != 2 {
				t.Errorf("输出目录应只有记录和报告两个文件, 实际 %d", len(entries))
			}
		})
	}
}

func TestReportOnlyWithLogs(t *testing.T) {
	sink, _ := NewSink(t.TempDir(), FormatJSON, ReportHTML)

	if err := sink.Save(sampleRecord("task_e_2", false)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(sink.ReportPath("task_e_2")); !os.IsNotExist(err) {
		t.Error("没有日志时不应生成报告")
	}

	// 先有日志后没有,旧报告被删除
	sink.Save(sampleRecord("task_e_3", true))
	if _, err := os.Stat(sink.ReportPath("task_e_3")); err != nil {
		t.Fatalf("应生成报告: %v", err)
	}
	sink.Save(sampleRecord("task_e_3", false))
	if _, err := os.Stat(sink.ReportPath("task_e_3")); !os.IsNotExist(err) {
		t.Error("日志消失后旧报告应被删除")
	}
}

func TestHTMLReportContent(t *testing.T) {
	sink, _ := NewSink(t.TempDir(), FormatJSON, ReportHTML)
	sink.Save(sampleRecord("task_e_4", true))

	data, err := os.ReadFile(sink.ReportPath("task_e_4"))
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)

	checks := []struct {
		name    string
		present bool
		snippet string
	}{
		{"内联样式", true, "<style>"},
		{"任务ID", true, "task_e_4"},
		{"提示词被转义", true, "Fix &lt;b&gt;the&lt;/b&gt; login test"},
		{"日志保留", true, "⠙ Building"},
		{"日志class保留", true, `class="line"`},
		{"脚本被清理", false, "alert(1)"},
		{"事件属性被清理", false, "onclick"},
		{"无外部样式表", false, `rel="stylesheet"`},
	}
	for _, c := range checks {
		if strings.Contains(html, c.snippet) != c.present {
			t.Errorf("%s: 包含 %q 应为 %v", c.name, c.snippet, c.present)
		}
	}
}

func TestMarkdownReport(t *testing.T) {
	sink, _ := NewSink(t.TempDir(), FormatJSON, ReportMarkdown)
	if err := sink.Save(sampleRecord("task_e_5", true)); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(sink.ReportPath("task_e_5"), "task_e_5_logs.md") {
		t.Errorf("报告路径 = %s", sink.ReportPath("task_e_5"))
	}
	data, err := os.ReadFile(sink.ReportPath("task_e_5"))
	if err != nil {
		t.Fatal(err)
	}
	md := string(data)
	if !strings.HasPrefix(md, "# Fix flaky login test") || !strings.Contains(md, "Building") {
		t.Errorf("Markdown报告内容异常: %s", md)
	}
	if strings.Contains(md, "alert(1)") {
		t.Error("Markdown报告不应包含脚本")
	}
}

func TestSaveSummaryOverwrites(t *testing.T) {
	sink, _ := NewSink(t.TempDir(), FormatJSON, ReportHTML)

	first := models.BuildSummary([]*models.Record{sampleRecord("task_e_a", true)})
	second := models.BuildSummary([]*models.Record{sampleRecord("task_e_a", true), sampleRecord("task_e_b", false)})

	sink.SaveSummary(first)
	if err := sink.SaveSummary(second); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(sink.SummaryPath())
	content := string(data)
	if !strings.Contains(content, `"total_tasks": 2`) || !strings.Contains(content, "task_e_b") {
		t.Errorf("摘要应为最后一次写入的内容: %s", content)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatYAML} {
		t.Run(format, func(t *testing.T) {
			sink, _ := NewSink(t.TempDir(), format, ReportHTML)
			rec := sampleRecord("task_e_6", true)
			sink.Save(rec)

			loaded, err := sink.Load("task_e_6")
			if err != nil {
				t.Fatalf("读取失败: %v", err)
			}
			if !loaded.Succeeded() || loaded.Prompt != rec.Prompt || !loaded.ScrapedAt.Equal(rec.ScrapedAt) {
				t.Errorf("读取的记录不一致: %+v", loaded)
			}
		})
	}
}

func TestPersistenceErrors(t *testing.T) {
	sink, _ := NewSink(t.TempDir(), FormatJSON, ReportHTML)

	var perr *PersistenceError
	if _, err := sink.Load("missing"); !errors.As(err, &perr) {
		t.Errorf("读取不存在的记录应返回PersistenceError, 实际 %v", err)
	}

	bad := sampleRecord("../escape", false)
	if err := sink.Save(bad); !errors.As(err, &perr) {
		t.Errorf("非法任务ID应返回PersistenceError, 实际 %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(sink.Dir()), "escape.json")); !os.IsNotExist(err) {
		t.Error("不应写到输出目录之外")
	}

	if _, err := NewSink(t.TempDir(), "xml", ReportHTML); err == nil {
		t.Error("不支持的格式应返回错误")
	}
}
