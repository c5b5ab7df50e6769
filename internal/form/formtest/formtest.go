// Package formtest 提供 form.Driver 的可编排测试替身：每次 Navigate 进入一个预设的页面剧本，
// 让签到状态机的每条 UI 路径都能被确定性地复现。
package formtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/checkin/internal/form"
)

// 页面文本（与真实表单一致，供剧本判断）。
const (
	NumberPlaceholder  = "Personal Number"
	VisitorPlaceholder = "Full names"
	SubmitText         = "Submit"
	ThankYouText       = "Thank you for checking in"
	VisitingText       = "Visiting"
)

// Scenario 描述一次导航后页面的表现。零值 = 页面什么都没有（导航成功但无任何可用元素）。
type Scenario struct {
	NavigateErr error
	PageText    string // PageContainsAny 的匹配对象（例如拦截页文本）

	NumberInput        bool // 是否出现号码输入框
	SubmitButton       bool // 号码页是否有 Submit
	ConfirmAfterSubmit bool // 提交号码后是否出现感谢语
	SecondSubmit       bool // 感谢页是否还有一个 Submit（单人二次确认）

	Members                  []string // 提交号码后出现的成员列表（空 = 无选择页）
	FamilySubmit             bool
	ConfirmAfterFamilySubmit bool

	Visiting                  bool // 无选择页时是否出现 Visiting 选项
	VisitorForm               bool // 点 Visiting 后是否出现姓名输入框 + Submit
	ConfirmAfterVisitorSubmit bool
}

type stage int

const (
	stageNone stage = iota
	stageEntry
	stageSubmitted
	stageFamilySubmitted
	stageVisitor
	stageVisitorSubmitted
)

type element struct {
	kind  form.Kind
	text  string
	stage stage
	nav   int
}

func (e *element) Text() string { return e.text }

// Driver 是 form.Driver 的测试实现。并发安全（只是为了 -race 下更稳）。
type Driver struct {
	mu        sync.Mutex
	scenarios []Scenario

	cur       Scenario
	st        stage
	confirmed bool

	// 以下字段供断言使用。
	Navigations int
	Typed       []string
	Selected    []string
	Clicks      []string
	Diagnostics []string
	Waits       []time.Duration
}

var _ form.Driver = (*Driver)(nil)

// New 按导航次数依次使用 scenarios；超出后重复最后一个。
func New(scenarios ...Scenario) *Driver {
	return &Driver{scenarios: scenarios}
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	sc := Scenario{}
	if n := len(d.scenarios); n > 0 {
		i := d.Navigations
		if i >= n {
			i = n - 1
		}
		sc = d.scenarios[i]
	}
	d.Navigations++
	d.cur = sc
	d.confirmed = false
	if sc.NavigateErr != nil {
		d.st = stageNone
		return sc.NavigateErr
	}
	d.st = stageEntry
	return nil
}

func (d *Driver) Find(ctx context.Context, q form.Query, timeout time.Duration) (form.Element, bool) {
	all := d.FindAll(ctx, q, timeout)
	if len(all) == 0 {
		return nil, false
	}
	if q.Last {
		return all[len(all)-1], true
	}
	return all[0], true
}

func (d *Driver) FindAll(ctx context.Context, q form.Query, timeout time.Duration) []form.Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Waits = append(d.Waits, timeout)
	if ctx.Err() != nil {
		return nil
	}
	sc := d.cur
	mk := func(text string) form.Element {
		return &element{kind: q.Kind, text: text, stage: d.st, nav: d.Navigations}
	}

	switch q.Kind {
	case form.KindInput:
		switch {
		case q.Text == NumberPlaceholder && d.st == stageEntry && sc.NumberInput:
			return []form.Element{mk(q.Text)}
		case q.Text == VisitorPlaceholder && d.st == stageVisitor && sc.VisitorForm:
			return []form.Element{mk(q.Text)}
		}
	case form.KindButton:
		if q.Text != SubmitText {
			return nil
		}
		switch {
		case d.st == stageEntry && sc.SubmitButton:
			return []form.Element{mk(q.Text)}
		case d.st == stageSubmitted && d.confirmed && sc.SecondSubmit:
			return []form.Element{mk(q.Text), mk(q.Text)}
		case d.st == stageSubmitted && !d.confirmed && len(sc.Members) > 0 && sc.FamilySubmit:
			return []form.Element{mk(q.Text)}
		case d.st == stageVisitor && sc.VisitorForm:
			return []form.Element{mk(q.Text)}
		}
	case form.KindText:
		switch {
		case q.Text == ThankYouText && d.confirmed:
			return []form.Element{mk(q.Text)}
		case q.Text == VisitingText && d.st == stageSubmitted && !d.confirmed && len(sc.Members) == 0 && sc.Visiting:
			return []form.Element{mk(q.Text)}
		}
	case form.KindMemberOption:
		if d.st != stageSubmitted || d.confirmed {
			return nil
		}
		out := make([]form.Element, 0, len(sc.Members))
		for _, m := range sc.Members {
			if excluded(m, q.Exclude) {
				continue
			}
			out = append(out, mk(m))
		}
		return out
	}
	return nil
}

func (d *Driver) Click(ctx context.Context, el form.Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	e, ok := el.(*element)
	if !ok || e == nil {
		return errors.New("formtest: 非本驱动创建的元素")
	}
	if e.nav != d.Navigations || e.stage != d.st {
		return errors.New("formtest: 元素已失效（页面状态已变化）")
	}
	d.Clicks = append(d.Clicks, e.kind.String()+":"+e.text)

	switch e.kind {
	case form.KindMemberOption:
		d.Selected = append(d.Selected, e.text)
	case form.KindText:
		if e.text == VisitingText {
			d.st = stageVisitor
		}
	case form.KindButton:
		switch d.st {
		case stageEntry:
			d.st = stageSubmitted
			d.confirmed = d.cur.ConfirmAfterSubmit
		case stageSubmitted:
			if !d.confirmed {
				d.st = stageFamilySubmitted
				d.confirmed = d.cur.ConfirmAfterFamilySubmit
			}
		case stageVisitor:
			d.st = stageVisitorSubmitted
			d.confirmed = d.cur.ConfirmAfterVisitorSubmit
		}
	}
	return nil
}

func (d *Driver) Type(ctx context.Context, el form.Element, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := el.(*element); !ok {
		return errors.New("formtest: 非本驱动创建的元素")
	}
	d.Typed = append(d.Typed, text)
	return nil
}

func (d *Driver) PageContainsAny(ctx context.Context, markers []string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	page := strings.ToLower(d.cur.PageText)
	if page == "" || d.st == stageNone {
		return false
	}
	for _, m := range markers {
		if m != "" && strings.Contains(page, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func (d *Driver) CaptureDiagnostic(ctx context.Context, label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Diagnostics = append(d.Diagnostics, label)
}

func excluded(text string, exclude []string) bool {
	for _, x := range exclude {
		if x != "" && strings.Contains(text, x) {
			return true
		}
	}
	return false
}
