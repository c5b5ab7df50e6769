package domain

// Candidate 是一个候选号码：来自哪个成员、规范化后的值。
type Candidate struct {
	Member AttendanceRecord
	Number string
}

// UnitPlan 是一个签到单元的确定性计划（只描述，不执行）。
//
// - 命名家庭：一个单元，Candidates 按行顺序排列，Roster 是全组名字
// - 空 key：每个成员一个单元，IsSingle=true，Roster 只含自己
type UnitPlan struct {
	FamilyKey  string
	Members    []AttendanceRecord
	Candidates []Candidate
	Roster     []string
	IsSingle   bool
}

// PlannedCandidate 是 dry-run 输出中的一个候选号码。
type PlannedCandidate struct {
	Name   string `json:"name"`
	Raw    string `json:"raw"`
	Number string `json:"number"`
}

// PlannedUnit 是 UnitPlan 的对外视图（dry-run 写入 report.plan）。
type PlannedUnit struct {
	Family     string             `json:"family"`
	Members    []string           `json:"members"`
	Candidates []PlannedCandidate `json:"candidates"`
	IsSingle   bool               `json:"is_single"`
}

func (p UnitPlan) View() PlannedUnit {
	v := PlannedUnit{
		Family:     p.FamilyKey,
		Members:    append([]string{}, p.Roster...),
		Candidates: make([]PlannedCandidate, 0, len(p.Candidates)),
		IsSingle:   p.IsSingle,
	}
	for _, c := range p.Candidates {
		v.Candidates = append(v.Candidates, PlannedCandidate{Name: c.Member.Name, Raw: c.Member.RawNumber, Number: c.Number})
	}
	return v
}
