package output

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/microcosm-cc/bluemonday"
)

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}} - Logs</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; margin: 0; padding: 24px; background: #f5f5f5; color: #1f2328; }
.container { max-width: 1200px; margin: 0 auto; background: #fff; border-radius: 8px; padding: 24px; box-shadow: 0 1px 3px rgba(0,0,0,.1); }
h1 { font-size: 22px; margin-top: 0; }
h2 { font-size: 17px; border-bottom: 1px solid #e5e7eb; padding-bottom: 6px; }
.metadata { background: #f8f9fa; border-radius: 6px; padding: 12px 16px; font-size: 14px; }
.metadata p { margin: 4px 0; }
.metadata a { color: #0969da; word-break: break-all; }
.prompt { white-space: pre-wrap; background: #f0f7ff; border-left: 4px solid #0969da; padding: 12px 16px; }
.logs { background: #1e1e1e; color: #d4d4d4; font-family: "SF Mono", Menlo, Consolas, monospace; font-size: 13px; line-height: 1.5; padding: 16px; border-radius: 6px; overflow-x: auto; white-space: pre-wrap; }
</style>
</head>
<body>
<div class="container">
<h1>{{.Title}}</h1>
<div class="metadata">
<p><strong>Task ID:</strong> {{.TaskID}}</p>
<p><strong>URL:</strong> <a href="{{.URL}}">{{.URL}}</a></p>
<p><strong>Scraped:</strong> {{.ScrapedAt}}</p>
</div>
{{if .Prompt}}<h2>Prompt</h2>
<div class="prompt">{{.Prompt}}</div>
{{end}}<h2>Logs</h2>
<div class="logs">{{.Logs}}</div>
</div>
</body>
</html>
`

// ReportRenderer 生成自包含的日志报告
type ReportRenderer struct {
	tmpl   *template.Template
	policy *bluemonday.Policy
	md     *converter.Converter
}

type reportData struct {
	Title     string
	TaskID    string
	URL       string
	ScrapedAt string
	Prompt    string
	Logs      template.HTML
}

// NewReportRenderer 创建报告生成器
func NewReportRenderer() *ReportRenderer {
	// 日志标记来自页面,去掉脚本与事件属性,保留终端输出常用的class与结构
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Globally()
	policy.AllowElements("span", "div", "pre", "code")

	return &ReportRenderer{
		tmpl:   template.Must(template.New("logs").Parse(reportTemplate)),
		policy: policy,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

func (r *ReportRenderer) data(rec *models.Record) reportData {
	title := rec.Title
	if title == "" {
		title = rec.TaskID
	}
	return reportData{
		Title:     title,
		TaskID:    rec.TaskID,
		URL:       rec.URL,
		ScrapedAt: rec.ScrapedAt.UTC().Format(time.RFC3339),
		Prompt:    rec.Prompt,
		Logs:      template.HTML(r.Sanitize(rec.Logs.HTML)),
	}
}

// Sanitize 清理日志标记
func (r *ReportRenderer) Sanitize(markup string) string {
	return r.policy.Sanitize(markup)
}

// HTML 渲染HTML报告,提示词经过转义,日志标记经过清理
func (r *ReportRenderer) HTML(rec *models.Record) ([]byte, error) {
	if rec.Logs == nil {
		return nil, fmt.Errorf("记录没有日志")
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, r.data(rec)); err != nil {
		return nil, fmt.Errorf("渲染报告失败: %w", err)
	}
	return buf.Bytes(), nil
}

// Markdown 渲染Markdown报告
func (r *ReportRenderer) Markdown(rec *models.Record) ([]byte, error) {
	if rec.Logs == nil {
		return nil, fmt.Errorf("记录没有日志")
	}
	d := r.data(rec)

	logs, err := r.md.ConvertString(string(d.Logs))
	if err != nil {
		return nil, fmt.Errorf("日志转换为Markdown失败: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Title)
	fmt.Fprintf(&b, "- **Task ID:** %s\n", d.TaskID)
	fmt.Fprintf(&b, "- **URL:** <%s>\n", d.URL)
	fmt.Fprintf(&b, "- **Scraped:** %s\n\n", d.ScrapedAt)
	if d.Prompt != "" {
		b.WriteString("## Prompt\n\n")
		for _, line := range strings.Split(d.Prompt, "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("## Logs\n\n")
	b.WriteString(strings.TrimSpace(logs))
	b.WriteString("\n")
	return []byte(b.String()), nil
}
