package domain

import "time"

const (
	StatusCheckedIn = "checked_in"
	StatusFailed    = "failed"
)

const (
	ErrCodeConfigNotFound = "config_not_found"
	ErrCodeConfigInvalid  = "config_invalid"
	ErrCodeRosterInvalid  = "roster_invalid"
	ErrCodeBrowserFailed  = "browser_failed"
	ErrCodeIOFailed       = "io_failed"
)

// FailureEntry 是失败清单中的一行（对应一个未签到成功的 AttendanceRecord）。
type FailureEntry struct {
	Family string `json:"family"`
	Name   string `json:"name"`
	Number string `json:"number"`
	Reason string `json:"reason,omitempty"`
}

// FailureFor 用原始记录构造失败条目（号码保持原样，不做规范化）。
func FailureFor(r AttendanceRecord, reason string) FailureEntry {
	return FailureEntry{Family: r.FamilyKey, Name: r.Name, Number: r.RawNumber, Reason: reason}
}

// FailureLedger 是按输入顺序追加的失败清单，run 结束时一次性交给持久化层。
type FailureLedger []FailureEntry

// AttemptTrace 记录一次候选号码尝试（用于解释失败原因/成功路径）。
type AttemptTrace struct {
	Name    string        `json:"name"`
	Number  string        `json:"number"`
	Outcome Outcome       `json:"outcome"`
	Path    []string      `json:"path"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// FamilyResult 是一个签到单元的结果。
// 命名家庭对应一个单元；空 key 的每个成员各自一个单元。
type FamilyResult struct {
	Family   string         `json:"family"`
	Members  []string       `json:"members"`
	Status   string         `json:"status"`
	Outcome  Outcome        `json:"outcome"`
	Attempts []AttemptTrace `json:"attempts"`
	Failures []FailureEntry `json:"-"`
}

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary  ReportSummary  `json:"summary"`
	Families []FamilyResult `json:"families"`
	Failures FailureLedger  `json:"failures"`

	// Ledger 是写出的失败清单文件；清单为空或 dry-run 时为空。
	Ledger string `json:"ledger,omitempty"`
	// Plan 只在 dry-run 时填充。
	Plan []PlannedUnit `json:"plan,omitempty"`
}

type ReportSummary struct {
	Units     int `json:"units"`
	Members   int `json:"members"`
	CheckedIn int `json:"checked_in"`
	Failed    int `json:"failed"`

	ByOutcome map[OutcomeKind]int `json:"by_outcome"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) nil 切片归一为空切片（JSON 输出 [] 而不是 null）
// 3) summary 由 families/failures 计算得出
//
// 注意：与 families 不同，这里不排序；输入顺序本身就是契约的一部分。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Families == nil {
		r.Families = []FamilyResult{}
	}
	if r.Failures == nil {
		r.Failures = FailureLedger{}
	}

	s := ReportSummary{ByOutcome: map[OutcomeKind]int{}}
	for i := range r.Families {
		f := &r.Families[i]
		if f.Attempts == nil {
			f.Attempts = []AttemptTrace{}
		}
		s.Units++
		s.Members += len(f.Members)
		s.ByOutcome[f.Outcome.Kind]++
		if f.Status == StatusCheckedIn {
			s.CheckedIn += len(f.Members)
		}
	}
	// dry-run 没有执行结果，单元/成员数取自计划。
	if len(r.Families) == 0 {
		for _, p := range r.Plan {
			s.Units++
			s.Members += len(p.Members)
		}
	}
	s.Failed = len(r.Failures)
	r.Summary = s
}
