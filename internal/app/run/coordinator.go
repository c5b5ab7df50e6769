package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/checkin/internal/app/planner"
	"github.com/John-Robertt/checkin/internal/domain"
)

// FamilyProcessor 处理一个家庭组（*checkin.Orchestrator 实现它）。
type FamilyProcessor interface {
	ProcessFamily(ctx context.Context, g domain.FamilyGroup) []domain.FamilyResult
}

// LedgerSink 持久化失败清单（*ledger.Writer 实现它）。
type LedgerSink interface {
	WriteLedger(l domain.FailureLedger) error
}

// Coordinator 串行驱动所有家庭组，汇总结果与失败清单。
type Coordinator struct {
	Processor FamilyProcessor
	Sink      LedgerSink
	Observer  Observer
	Log       *zap.Logger

	RunID  string
	Source string
	Now    func() time.Time
}

// RunState 是一次运行的可变状态，只在 Run 内部使用。
type RunState struct {
	processed map[string]struct{}
	ledger    domain.FailureLedger
}

func newRunState() *RunState {
	return &RunState{processed: make(map[string]struct{}, 64)}
}

// markProcessed 返回 false 表示该 key 已处理过。
func (s *RunState) markProcessed(key string) bool {
	if _, ok := s.processed[key]; ok {
		return false
	}
	s.processed[key] = struct{}{}
	return true
}

// Run 按输入顺序处理 groups，返回定稿的报告。
//
// - 同一 family key 只处理一次；重复出现的组会合并到首次出现的位置
// - 家庭之间不重试；失败清单按输入顺序累积，结束时一次性交给 Sink
// - ctx 取消后不再处理新的组，剩余记录全部以 canceled 记入清单（不丢任何一行）
//
// 返回的 error 只来自 Sink；此时报告仍然完整。
func (c *Coordinator) Run(ctx context.Context, groups []domain.FamilyGroup) (domain.RunReport, error) {
	log := c.logger()
	obs := observerOrNop(c.Observer)
	now := c.now()

	runID := c.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	groups = mergeGroups(groups)
	total, members := 0, 0
	for _, g := range groups {
		total += len(planner.PlanFamily(g))
		members += len(g.Members)
	}

	rr := domain.RunReport{
		RunID:     runID,
		Source:    c.Source,
		StartedAt: now(),
		Families:  make([]domain.FamilyResult, 0, total),
	}
	obs.OnStart(StartInfo{RunID: runID, Source: c.Source, Units: total, Members: members})
	log.Info("开始签到", zap.String("run_id", runID), zap.Int("units", total), zap.Int("members", members))

	st := newRunState()
	idx := 0
	for _, g := range groups {
		if !st.markProcessed(g.Key) {
			continue
		}

		var results []domain.FamilyResult
		t0 := now()
		if ctx.Err() != nil {
			results = canceledResults(g)
		} else {
			results = c.Processor.ProcessFamily(ctx, g)
		}
		dur := now().Sub(t0)

		for _, res := range results {
			idx++
			st.ledger = append(st.ledger, res.Failures...)
			rr.Families = append(rr.Families, res)
			obs.OnFamilyDone(idx, total, res, dur)
		}
	}
	if ctx.Err() != nil {
		log.Warn("运行被取消，剩余记录已记入失败清单", zap.Int("failures", len(st.ledger)))
	}

	rr.Failures = st.ledger
	t0 := now()
	var sinkErr error
	if c.Sink != nil {
		if err := c.Sink.WriteLedger(st.ledger); err != nil {
			sinkErr = fmt.Errorf("写入失败清单：%w", err)
			log.Error("写入失败清单失败", zap.Error(err))
		}
	}
	obs.OnPhaseDone("ledger", map[string]any{"entries": len(st.ledger)}, now().Sub(t0))

	rr.FinishedAt = now()
	rr.Finalize()
	log.Info("签到结束",
		zap.Int("units", rr.Summary.Units),
		zap.Int("checked_in", rr.Summary.CheckedIn),
		zap.Int("failed", rr.Summary.Failed),
	)
	obs.OnFinish(rr)
	return rr, sinkErr
}

// canceledResults 为未处理的组生成 canceled 结果，单元划分与正常处理一致。
func canceledResults(g domain.FamilyGroup) []domain.FamilyResult {
	plans := planner.PlanFamily(g)
	out := make([]domain.FamilyResult, 0, len(plans))
	for _, p := range plans {
		res := domain.FamilyResult{
			Family:   p.FamilyKey,
			Members:  append([]string(nil), p.Roster...),
			Status:   domain.StatusFailed,
			Outcome:  domain.Failure(domain.ReasonCanceled),
			Attempts: []domain.AttemptTrace{},
			Failures: make([]domain.FailureEntry, 0, len(p.Members)),
		}
		for _, m := range p.Members {
			res.Failures = append(res.Failures, domain.FailureFor(m, domain.ReasonCanceled))
		}
		out = append(out, res)
	}
	return out
}

// mergeGroups 把相同 key 的组合并到首次出现的位置，成员保持出现顺序。
func mergeGroups(groups []domain.FamilyGroup) []domain.FamilyGroup {
	index := make(map[string]int, len(groups))
	out := make([]domain.FamilyGroup, 0, len(groups))
	for _, g := range groups {
		if i, ok := index[g.Key]; ok {
			out[i].Members = append(out[i].Members, g.Members...)
			continue
		}
		index[g.Key] = len(out)
		out = append(out, domain.FamilyGroup{
			Key:     g.Key,
			Members: append([]domain.AttendanceRecord(nil), g.Members...),
		})
	}
	return out
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *Coordinator) now() func() time.Time {
	if c.Now == nil {
		return time.Now
	}
	return c.Now
}
