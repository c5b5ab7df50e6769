package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/John-Robertt/checkin/internal/app/run"
	"github.com/John-Robertt/checkin/internal/domain"
)

func TestMain(m *testing.M) {
	// probe 测试里 resty 的空闲连接由 http.Transport 持有，不属于泄漏。
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// syncBuffer 允许 ticker goroutine 与测试同时访问输出。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressUI_FamilyLines(t *testing.T) {
	var out syncBuffer
	p := newProgressUI(&out)
	p.OnStart(run.StartInfo{RunID: "r1", Source: "export_a.csv", Units: 2, Members: 3})
	p.OnFamilyDone(1, 2, domain.FamilyResult{
		Family:  "Doe",
		Members: []string{"Jane Doe", "John Doe"},
		Status:  domain.StatusCheckedIn,
		Outcome: domain.FamilySelectionSuccess(),
		Attempts: []domain.AttemptTrace{
			{Name: "Jane Doe", Outcome: domain.Failure(domain.ReasonAmbiguousNoPath)},
			{Name: "John Doe", Outcome: domain.FamilySelectionSuccess()},
		},
	}, 3*time.Second)
	p.OnFamilyDone(2, 2, domain.FamilyResult{
		Family:   "",
		Members:  []string{"Ann Lee"},
		Status:   domain.StatusFailed,
		Outcome:  domain.Failure(domain.ReasonVisitorPathFailed),
		Attempts: []domain.AttemptTrace{{Name: "Ann Lee"}},
	}, time.Second)
	p.OnFinish(domain.RunReport{Summary: domain.ReportSummary{CheckedIn: 2, Failed: 1}})
	p.Stop()

	got := out.String()
	for _, want := range []string{
		"source: export_a.csv",
		"[1/2] Doe Jane Doe, John Doe OK family_selection via=John Doe attempts=2 (3.0s)",
		"[2/2] (无家庭) Ann Lee FAIL visitor_path_failed attempts=1 (1.0s)",
		"结束: checked_in=2 failed=1",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, got)
		}
	}
}

func TestProgressUI_KeepaliveAndStop(t *testing.T) {
	var out syncBuffer
	p := newProgressUI(&out)
	p.tickerInterval = 5 * time.Millisecond
	p.keepaliveThreshold = time.Millisecond

	p.OnStart(run.StartInfo{Units: 3})
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "进度: done=0/3") {
		if time.Now().After(deadline) {
			t.Fatalf("未输出 keepalive：\n%s", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()
}

func TestProgressUI_DryRunNoTicker(t *testing.T) {
	var out syncBuffer
	p := newProgressUI(&out)
	p.OnStart(run.StartInfo{DryRun: true, Units: 3})
	if p.tickerStarted {
		t.Fatalf("dry-run 不应启动 keepalive")
	}
	p.OnFinish(domain.RunReport{DryRun: true})
	p.Stop()
	if strings.Contains(out.String(), "结束:") {
		t.Fatalf("dry-run 不应输出结束行：%s", out.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Fatalf("truncate 结果不符合预期：%q", got)
	}
	if got := truncate(" ab ", 6); got != "ab" {
		t.Fatalf("truncate 应去除首尾空白：%q", got)
	}
}
