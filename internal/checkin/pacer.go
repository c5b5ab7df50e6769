package checkin

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer 控制交互节奏：步骤间的随机停顿与失败重试前的停顿。
// 节奏只是策略，不影响结果；nil *Pacer 表示不停顿。
type Pacer struct {
	Min        time.Duration
	Max        time.Duration
	RetryPause time.Duration

	// Sleep 可替换（测试用）；nil 时使用可被 ctx 打断的 sleep。
	Sleep func(ctx context.Context, d time.Duration)

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPacer 构造随机停顿区间为 [min,max] 的 Pacer。
func NewPacer(min, max, retryPause time.Duration) *Pacer {
	if max < min {
		max = min
	}
	return &Pacer{
		Min:        min,
		Max:        max,
		RetryPause: retryPause,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Step 在两个交互步骤之间停顿一个随机时长。
func (p *Pacer) Step(ctx context.Context) {
	if p == nil {
		return
	}
	p.sleep(ctx, p.pick())
}

// BetweenAttempts 在同一家庭两次失败尝试之间停顿，避免频繁打到外部表单。
func (p *Pacer) BetweenAttempts(ctx context.Context) {
	if p == nil {
		return
	}
	p.sleep(ctx, p.RetryPause)
}

func (p *Pacer) pick() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.Min + time.Duration(p.rnd.Int63n(int64(p.Max-p.Min)+1))
}

func (p *Pacer) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if p.Sleep != nil {
		p.Sleep(ctx, d)
		return
	}
	sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
