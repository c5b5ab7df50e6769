package planner

import (
	"github.com/John-Robertt/checkin/internal/domain"
	"github.com/John-Robertt/checkin/internal/number"
)

// PlanFamily 把一个 FamilyGroup 展开为确定性的签到单元计划（不做任何页面交互）。
//
// - key=="" ：每个成员独立成单元（IsSingle=true，Roster 只含自己），兄弟成员互不代签
// - 命名家庭：一个单元；IsSingle=(成员数==1)；候选号码按行顺序；Roster 为全组名字，
//   这样无论用哪个成员的号码进入选择页，都能匹配到整个家庭
func PlanFamily(g domain.FamilyGroup) []domain.UnitPlan {
	if g.IsIndependent() {
		out := make([]domain.UnitPlan, 0, len(g.Members))
		for _, m := range g.Members {
			out = append(out, domain.UnitPlan{
				FamilyKey:  "",
				Members:    []domain.AttendanceRecord{m},
				Candidates: []domain.Candidate{candidate(m)},
				Roster:     []string{m.Name},
				IsSingle:   true,
			})
		}
		return out
	}

	if len(g.Members) == 0 {
		return nil
	}

	cands := make([]domain.Candidate, 0, len(g.Members))
	for _, m := range g.Members {
		cands = append(cands, candidate(m))
	}
	return []domain.UnitPlan{{
		FamilyKey:  g.Key,
		Members:    append([]domain.AttendanceRecord(nil), g.Members...),
		Candidates: cands,
		Roster:     g.Names(),
		IsSingle:   len(g.Members) == 1,
	}}
}

// PlanAll 对所有组调用 PlanFamily，保持组顺序。
func PlanAll(groups []domain.FamilyGroup) []domain.UnitPlan {
	out := make([]domain.UnitPlan, 0, len(groups))
	for _, g := range groups {
		out = append(out, PlanFamily(g)...)
	}
	return out
}

func candidate(m domain.AttendanceRecord) domain.Candidate {
	return domain.Candidate{Member: m, Number: number.Normalize(m.RawNumber)}
}
