package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/models"
)

func TestBackoff(t *testing.T) {
	cfg := DefaultExecutorConfig()
	want := []time.Duration{2 * time.Second, 3 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := cfg.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, 期望 %v", i+1, got, w)
		}
	}
}

func TestExecutorRetriesThenSucceeds(t *testing.T) {
	doc := fullDocument(t)
	doc.NavigationFailures = 2
	session := browser.NewStaticSession(map[string]browser.Document{taskURL("task_e_1"): doc})
	bctx, _ := session.ActiveContext()

	rec := &sleepRecorder{}
	record := newTestExecutor(rec).Run(context.Background(), bctx, target("task_e_1"))

	if !record.Succeeded() {
		t.Fatalf("第3次导航成功后任务应成功, 错误: %s", record.Error)
	}
	if got := session.Attempts(taskURL("task_e_1")); got != 3 {
		t.Errorf("导航次数 = %d, 期望 3", got)
	}

	// 日志视图切换的等待也会被记录,只看前两个
	delays := rec.recorded()
	if len(delays) < 2 || delays[0] != 2*time.Second || delays[1] != 3*time.Second {
		t.Errorf("重试等待 = %v, 期望以 [2s 3s] 开头", delays)
	}
}

func TestExecutorNavigationExhausted(t *testing.T) {
	doc := fullDocument(t)
	doc.NavigationFailures = 3
	session := browser.NewStaticSession(map[string]browser.Document{taskURL("task_e_2"): doc})
	bctx, _ := session.ActiveContext()

	rec := &sleepRecorder{}
	record := newTestExecutor(rec).Run(context.Background(), bctx, target("task_e_2"))

	if record.Status != models.RecordFailed {
		t.Fatalf("状态 = %s, 期望 failed", record.Status)
	}
	if !strings.Contains(record.Error, "第3次") {
		t.Errorf("错误信息应来自最后一次导航, 实际 %q", record.Error)
	}
	if got := session.Attempts(taskURL("task_e_2")); got != 3 {
		t.Errorf("导航次数 = %d, 期望 3", got)
	}
	if got := rec.recorded(); len(got) != 2 {
		t.Errorf("应只在两次重试前等待, 实际 %v", got)
	}
	assertEmptyRecord(t, record)
}

func TestExecutorCapabilityFailure(t *testing.T) {
	doc := fullDocument(t)
	doc.Crash = true
	session := browser.NewStaticSession(map[string]browser.Document{taskURL("task_e_3"): doc})
	bctx, _ := session.ActiveContext()

	record := newTestExecutor(&sleepRecorder{}).Run(context.Background(), bctx, target("task_e_3"))
	if record.Status != models.RecordFailed {
		t.Fatalf("页面崩溃时任务应失败, 实际 %s", record.Status)
	}
	if session.Attempts(taskURL("task_e_3")) != 1 {
		t.Error("能力失效不应重试导航")
	}
	assertEmptyRecord(t, record)
}

func TestExecutorRecoversPanic(t *testing.T) {
	record := newTestExecutor(&sleepRecorder{}).Run(context.Background(), panicContext{}, target("task_e_4"))
	if record.Status != models.RecordFailed || !strings.Contains(record.Error, "panic") {
		t.Errorf("panic应转换为失败记录, 实际 %+v", record)
	}
}

type panicContext struct{}

func (panicContext) NewPage(ctx context.Context) (browser.Page, error) {
	panic("boom")
}

func assertEmptyRecord(t *testing.T, rec *models.Record) {
	t.Helper()
	if rec.Title != "" || rec.Prompt != "" || rec.Logs != nil || len(rec.Metadata) != 0 ||
		len(rec.Summary) != 0 || len(rec.FilesChanged) != 0 || len(rec.ExternalLinks) != 0 {
		t.Errorf("失败记录不应包含字段数据: %+v", rec)
	}
	if rec.TaskID == "" || rec.Error == "" || rec.ScrapedAt.IsZero() {
		t.Errorf("失败记录应保留task_id/error/scraped_at: %+v", rec)
	}
}
