package core

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/RecoveryAshes/codexharvest/internal/output"
)

func TestOrchestratorNoSession(t *testing.T) {
	closed := browser.NewStaticSession(nil)
	closed.Close()

	tests := []struct {
		name    string
		session browser.Session
	}{
		{"会话为nil", nil},
		{"会话已关闭", closed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newTestExecutor(&sleepRecorder{})
			o := NewOrchestrator(OrchestratorConfig{Concurrency: 2}, tt.session, exec, nil)
			res, err := o.Run(context.Background(), []models.Target{target("task_e_1")})
			if !errors.Is(err, ErrNoSession) {
				t.Errorf("错误 = %v, 期望 ErrNoSession", err)
			}
			if res != nil {
				t.Error("没有会话时不应执行任何任务")
			}
		})
	}
}

func TestOrchestratorEndToEnd(t *testing.T) {
	failing := fullDocument(t)
	failing.NavigationFailures = 3

	session := browser.NewStaticSession(map[string]browser.Document{
		taskURL("task_e_aa"): fullDocument(t),
		taskURL("task_e_bb"): {HTML: readFixture(t, "task_nologs.html")},
		taskURL("task_e_cc"): failing,
	})

	dir := t.TempDir()
	sink, err := output.NewSink(dir, output.FormatJSON, output.ReportHTML)
	if err != nil {
		t.Fatal(err)
	}

	rec := &sleepRecorder{}
	o := NewOrchestrator(OrchestratorConfig{Concurrency: 2, BatchDelay: 2 * time.Second}, session, newTestExecutor(rec), sink)
	o.SetSleep(rec.sleep)

	targets := []models.Target{target("task_e_aa"), target("task_e_bb"), target("task_e_cc")}
	res, err := o.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	if res.Summary.Total != 3 || res.Summary.Succeeded != 2 || res.Summary.Failed != 1 {
		t.Errorf("摘要 = %+v, 期望 3/2/1", res.Summary)
	}
	if res.Summary.WithPrompt != 2 || res.Summary.WithLogs != 1 {
		t.Errorf("含提示词 %d, 含日志 %d", res.Summary.WithPrompt, res.Summary.WithLogs)
	}

	for _, id := range []string{"task_e_aa", "task_e_bb", "task_e_cc"} {
		if _, err := os.Stat(filepath.Join(dir, id+".json")); err != nil {
			t.Errorf("缺少记录文件 %s: %v", id, err)
		}
	}
	reports, _ := filepath.Glob(filepath.Join(dir, "*_logs.html"))
	if len(reports) != 1 || filepath.Base(reports[0]) != "task_e_aa_logs.html" {
		t.Errorf("日志报告 = %v, 期望只有 task_e_aa_logs.html", reports)
	}

	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatalf("缺少摘要文件: %v", err)
	}
	var summary models.BatchSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Total != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("摘要文件 = %+v", summary)
	}
	failed := summary.FailedLines()
	if len(failed) != 1 || failed[0].TaskID != "task_e_cc" || failed[0].Error == "" {
		t.Errorf("失败列表 = %+v", failed)
	}

	failedRec, err := sink.Load("task_e_cc")
	if err != nil {
		t.Fatal(err)
	}
	if failedRec.Prompt != "" || failedRec.Logs != nil || len(failedRec.Metadata) != 0 {
		t.Errorf("失败记录不应有字段数据: %+v", failedRec)
	}

	// 两批之间只等待一次批间隔
	batchWaits := 0
	for _, d := range rec.recorded() {
		if d == 2*time.Second {
			batchWaits++
		}
	}
	// task_e_cc的第一次重试也等待2s
	if batchWaits != 2 {
		t.Errorf("2s等待次数 = %d, 期望 2 (1次批间隔 + 1次重试)", batchWaits)
	}
}

func TestOrchestratorBatchDelaySkippedAfterLastBatch(t *testing.T) {
	docs := make(map[string]browser.Document)
	var targets []models.Target
	for _, id := range []string{"task_e_1", "task_e_2", "task_e_3", "task_e_4"} {
		docs[taskURL(id)] = browser.Document{HTML: readFixture(t, "task_nologs.html")}
		targets = append(targets, target(id))
	}

	rec := &sleepRecorder{}
	batchRec := &sleepRecorder{}
	o := NewOrchestrator(OrchestratorConfig{Concurrency: 2, BatchDelay: 5 * time.Second},
		browser.NewStaticSession(docs), newTestExecutor(rec), nil)
	o.SetSleep(batchRec.sleep)

	res, err := o.Run(context.Background(), targets)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 4 {
		t.Errorf("记录数 = %d", len(res.Records))
	}
	if got := batchRec.recorded(); len(got) != 1 || got[0] != 5*time.Second {
		t.Errorf("批间等待 = %v, 期望只有一次5s", got)
	}
}

// countingSession 统计同时打开的标签页数
type countingSession struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (s *countingSession) ActiveContext() (browser.Context, bool) { return s, true }
func (s *countingSession) Close() error                           { return nil }

func (s *countingSession) NewPage(ctx context.Context) (browser.Page, error) {
	s.mu.Lock()
	s.active++
	s.maxSeen = max(s.maxSeen, s.active)
	s.mu.Unlock()

	page, err := browser.NewHTMLPage(browser.Document{HTML: "<html><title>t</title></html>"})
	if err != nil {
		return nil, err
	}
	return &countingPage{HTMLPage: page, session: s}, nil
}

type countingPage struct {
	*browser.HTMLPage
	session *countingSession
}

func (p *countingPage) Navigate(ctx context.Context, url string, wait browser.WaitCondition, timeout time.Duration) error {
	time.Sleep(20 * time.Millisecond)
	return nil
}

func (p *countingPage) Close() error {
	p.session.mu.Lock()
	p.session.active--
	p.session.mu.Unlock()
	return p.HTMLPage.Close()
}

func TestOrchestratorConcurrencyCap(t *testing.T) {
	var targets []models.Target
	for i := 0; i < 7; i++ {
		targets = append(targets, target("task_e_"+strings.Repeat("a", i+1)))
	}

	session := &countingSession{}
	o := NewOrchestrator(OrchestratorConfig{Concurrency: 3}, session, newTestExecutor(&sleepRecorder{}), nil)
	res, err := o.Run(context.Background(), targets)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 7 {
		t.Errorf("记录数 = %d, 期望 7", len(res.Records))
	}
	if session.maxSeen > 3 {
		t.Errorf("同时打开的标签页 = %d, 超过并发上限3", session.maxSeen)
	}
	if session.maxSeen < 2 {
		t.Errorf("同时打开的标签页 = %d, 批内任务应并发执行", session.maxSeen)
	}
}

func TestOrchestratorResume(t *testing.T) {
	session := browser.NewStaticSession(map[string]browser.Document{
		taskURL("task_e_1"): {HTML: readFixture(t, "task_nologs.html")},
		taskURL("task_e_2"): {HTML: readFixture(t, "task_nologs.html"), Crash: true},
	})
	sink, _ := output.NewSink(t.TempDir(), output.FormatJSON, output.ReportHTML)
	targets := []models.Target{target("task_e_1"), target("task_e_2")}

	first := NewOrchestrator(OrchestratorConfig{Concurrency: 2}, session, newTestExecutor(&sleepRecorder{}), sink)
	if _, err := first.Run(context.Background(), targets); err != nil {
		t.Fatal(err)
	}

	second := NewOrchestrator(OrchestratorConfig{Concurrency: 2, Resume: true}, session, newTestExecutor(&sleepRecorder{}), sink)
	res, err := second.Run(context.Background(), targets)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 {
		t.Errorf("跳过数 = %d, 期望 1", res.Skipped)
	}
	if session.Attempts(taskURL("task_e_1")) != 1 {
		t.Error("已成功的任务不应再次导航")
	}
	if session.Attempts(taskURL("task_e_2")) != 2 {
		t.Error("失败的任务应重新执行")
	}
	if res.Summary.Total != 2 || res.Summary.Succeeded != 1 {
		t.Errorf("续跑摘要应包含跳过的记录: %+v", res.Summary)
	}
}

func TestOrchestratorCanceled(t *testing.T) {
	session := browser.NewStaticSession(map[string]browser.Document{
		taskURL("task_e_1"): {HTML: readFixture(t, "task_nologs.html")},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(OrchestratorConfig{Concurrency: 1}, session, newTestExecutor(&sleepRecorder{}), nil)
	res, err := o.Run(ctx, []models.Target{target("task_e_1")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("错误 = %v, 期望 context.Canceled", err)
	}
	if res == nil || len(res.Records) != 0 {
		t.Errorf("取消后不应调度任何批次: %+v", res)
	}
}
