package checkin

import (
	"context"

	"go.uber.org/zap"

	"github.com/John-Robertt/checkin/internal/app/planner"
	"github.com/John-Robertt/checkin/internal/domain"
)

// Attempter 是 Orchestrator 对单次尝试的依赖（*Machine 实现它）。
type Attempter interface {
	AttemptTrace(ctx context.Context, number string, roster []string, isSingle bool) domain.AttemptTrace
}

// Orchestrator 把一个 FamilyGroup 交给状态机：按行顺序轮换候选号码，首个成功即停。
type Orchestrator struct {
	Attempter Attempter
	Pacer     *Pacer
	Log       *zap.Logger
}

// ProcessFamily 处理一个家庭组，返回每个签到单元的结果（命名家庭一个，空 key 每人一个）。
//
// 单元失败时，该单元的全部成员写入 FamilyResult.Failures，原因取最后一次尝试的原因。
// ctx 取消后不再发起新尝试，剩余单元以 canceled 记为失败。
func (o *Orchestrator) ProcessFamily(ctx context.Context, g domain.FamilyGroup) []domain.FamilyResult {
	plans := planner.PlanFamily(g)
	out := make([]domain.FamilyResult, 0, len(plans))
	for _, p := range plans {
		out = append(out, o.processUnit(ctx, p))
	}
	return out
}

func (o *Orchestrator) processUnit(ctx context.Context, p domain.UnitPlan) domain.FamilyResult {
	log := o.logger().With(zap.String("family", p.FamilyKey), zap.Strings("members", p.Roster))
	res := domain.FamilyResult{
		Family:   p.FamilyKey,
		Members:  append([]string(nil), p.Roster...),
		Status:   domain.StatusFailed,
		Attempts: []domain.AttemptTrace{},
	}

	// 只有在一次尝试都没发起时才会沿用这个值。
	last := domain.Failure(domain.ReasonCanceled)
	for i, c := range p.Candidates {
		if ctx.Err() != nil {
			last = domain.Failure(domain.ReasonCanceled)
			break
		}
		tr := o.Attempter.AttemptTrace(ctx, c.Number, p.Roster, p.IsSingle)
		tr.Name = c.Member.Name
		res.Attempts = append(res.Attempts, tr)
		last = tr.Outcome

		if tr.Outcome.OK() {
			res.Status = domain.StatusCheckedIn
			res.Outcome = tr.Outcome
			log.Info("签到成功", zap.String("via", c.Member.Name), zap.Stringer("outcome", tr.Outcome))
			return res
		}
		log.Info("号码未能签到", zap.String("via", c.Member.Name), zap.Stringer("outcome", tr.Outcome))
		if i < len(p.Candidates)-1 {
			o.Pacer.BetweenAttempts(ctx)
		}
	}

	res.Outcome = last
	res.Failures = make([]domain.FailureEntry, 0, len(p.Members))
	for _, m := range p.Members {
		res.Failures = append(res.Failures, domain.FailureFor(m, last.Reason))
	}
	log.Warn("家庭签到失败", zap.String("reason", last.Reason), zap.Int("attempts", len(res.Attempts)))
	return res
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}
