package domain

// OutcomeKind 是一次签到尝试的终态。
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeFamilySelection OutcomeKind = "family_selection"
	OutcomeVisitor         OutcomeKind = "visitor"
	OutcomeFailure         OutcomeKind = "failure"
)

// 失败原因码（稳定字符串，写入 report）。
const (
	ReasonNoConfirmationAfterFamilySubmit = "no_confirmation_after_family_submit"
	ReasonFamilySubmitUnavailable         = "family_submit_unavailable"
	ReasonVisitorPathFailed               = "visitor_path_failed"
	ReasonAmbiguousNoPath                 = "ambiguous_no_path"
	ReasonCanceled                        = "canceled"
	ReasonUnexpectedPageState             = "unexpected_page_state"
)

// Outcome 是一次尝试的结果（产生后不再修改）。
// Reason 只在 Kind==OutcomeFailure 时非空。
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

func Success() Outcome                { return Outcome{Kind: OutcomeSuccess} }
func FamilySelectionSuccess() Outcome { return Outcome{Kind: OutcomeFamilySelection} }
func VisitorSuccess() Outcome         { return Outcome{Kind: OutcomeVisitor} }
func Failure(reason string) Outcome   { return Outcome{Kind: OutcomeFailure, Reason: reason} }

// OK 表示该结果是否算“已签到”。
func (o Outcome) OK() bool {
	switch o.Kind {
	case OutcomeSuccess, OutcomeFamilySelection, OutcomeVisitor:
		return true
	default:
		return false
	}
}

func (o Outcome) String() string {
	if o.Kind == OutcomeFailure && o.Reason != "" {
		return string(o.Kind) + "(" + o.Reason + ")"
	}
	return string(o.Kind)
}
