package run

import (
	"time"

	"github.com/John-Robertt/checkin/internal/domain"
)

// StartInfo 描述即将开始的一次签到运行。
type StartInfo struct {
	RunID   string
	Source  string
	DryRun  bool
	Units   int
	Members int
}

// Observer 用于把“运行进度/阶段/单元结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：CLI 侧可能有自己的 keepalive goroutine。
type Observer interface {
	// OnStart 在第一个单元开始前调用一次。
	OnStart(info StartInfo)
	// OnPhaseDone 在阶段结束时调用（选择批次、读名单、写清单、写报告）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnFamilyDone 在每个签到单元结束时调用；idx 从 1 开始。
	OnFamilyDone(idx, total int, res domain.FamilyResult, dur time.Duration)
	// OnFinish 在报告定稿后调用一次。
	OnFinish(rr domain.RunReport)
}

type nopObserver struct{}

func (nopObserver) OnStart(StartInfo) {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration) {}
func (nopObserver) OnFamilyDone(int, int, domain.FamilyResult, time.Duration) {}
func (nopObserver) OnFinish(domain.RunReport) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
