package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/checkin/internal/app/run"
	"github.com/John-Robertt/checkin/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端上的简洁进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：一个家庭可能要试好几个号码，长时间无单元完成时也定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total int
	done  int
	ok    int
	fail  int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	doneCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 20 * time.Second,
		tickerInterval:     5 * time.Second,
	}
}

func (p *progressUI) OnStart(info run.StartInfo) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.total = info.Units

	mode := "run"
	if info.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(p.w, "[%s] checkin %s\n", now.Format("15:04:05"), mode)
	fmt.Fprintf(p.w, "  run_id: %s\n", info.RunID)
	fmt.Fprintf(p.w, "  source: %s\n", info.Source)
	fmt.Fprintf(p.w, "  units: %d members: %d\n\n", info.Units, info.Members)

	p.lastPrinted = time.Now()
	if !info.DryRun && p.total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "select":
		fmt.Fprintf(p.w, "名单: %s (%s)\n", stringField(fields, "source"), formatShortDuration(dur))
	case "roster":
		fmt.Fprintf(p.w, "读取: records=%d families=%d (%s)\n",
			intField(fields, "records"), intField(fields, "families"), formatShortDuration(dur),
		)
	case "ledger":
		fmt.Fprintf(p.w, "失败清单: entries=%d (%s)\n", intField(fields, "entries"), formatShortDuration(dur))
	case "report":
		if path := stringField(fields, "path"); path != "" {
			fmt.Fprintf(p.w, "报告: %s (%s)\n", path, formatShortDuration(dur))
		}
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnFamilyDone(idx, total int, res domain.FamilyResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// idx/total 由 run 层给出；这里同时维护自己的计数，供 keepalive 使用。
	p.done = idx
	p.total = total

	label := familyLabel(res.Family) + " " + truncate(strings.Join(res.Members, ", "), 80)
	if res.Status == domain.StatusCheckedIn {
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK %s%s (%s)\n",
			idx, total, label, res.Outcome.Kind, formatVia(res), formatShortDuration(dur),
		)
	} else {
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s attempts=%d (%s)\n",
			idx, total, label, res.Outcome.Reason, len(res.Attempts), formatShortDuration(dur),
		)
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnFinish(rr domain.RunReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTickerLocked()
	if rr.DryRun {
		return
	}
	fmt.Fprintf(p.w, "\n结束: checked_in=%d failed=%d elapsed=%s\n",
		rr.Summary.CheckedIn, rr.Summary.Failed, formatElapsed(time.Since(p.startedAt)),
	)
	p.lastPrinted = time.Now()
}

// Stop 停止 keepalive 并等待 ticker goroutine 退出（幂等）。
func (p *progressUI) Stop() {
	p.mu.Lock()
	done := p.doneCh
	p.stopTickerLocked()
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 20 * time.Second
	}

	stop, done := p.stopCh, p.doneCh
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d elapsed=%s\n",
						p.done, p.total, p.ok, p.fail, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// formatVia 给出成功时用的是谁的号码（家庭轮换到第二个号码以后才值得提示）。
func formatVia(res domain.FamilyResult) string {
	n := len(res.Attempts)
	if n <= 1 {
		return ""
	}
	return fmt.Sprintf(" via=%s attempts=%d", res.Attempts[n-1].Name, n)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}
