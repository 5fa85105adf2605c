package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/extractors"
	"github.com/RecoveryAshes/codexharvest/internal/models"
)

// sleepRecorder 记录所有非零等待,不真正睡眠
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		r.mu.Lock()
		r.delays = append(r.delays, d)
		r.mu.Unlock()
	}
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("读取测试页面失败: %v", err)
	}
	return string(data)
}

func taskURL(id string) string {
	return "https://chatgpt.com/codex/tasks/" + id
}

func target(id string) models.Target {
	return models.Target{ID: id, URL: taskURL(id)}
}

func newTestExecutor(rec *sleepRecorder) *Executor {
	ext := extractors.NewExtractor(extractors.DefaultChains(), extractors.DefaultOptions())
	ext.SetSleep(rec.sleep)

	cfg := DefaultExecutorConfig()
	cfg.SettleDelay = 0
	e := NewExecutor(cfg, ext, nil)
	e.SetSleep(rec.sleep)
	return e
}

// fullDocument 带日志视图的完整任务页
func fullDocument(t *testing.T) browser.Document {
	main := readFixture(t, "task_main.html")
	return browser.Document{
		HTML:  main,
		Views: map[string]string{"Logs": readFixture(t, "task_logs.html"), "Diff": main},
	}
}
