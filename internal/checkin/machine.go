// Package checkin 实现签到核心：单次号码尝试的状态机与家庭级的号码轮换。
//
// 页面交互只通过 form.Driver；所有失败都降级为 domain.Outcome，从不向上抛出原始错误。
package checkin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/checkin/internal/domain"
	"github.com/John-Robertt/checkin/internal/form"
)

// 状态名（写入 AttemptTrace.Path，用于解释一次尝试走过的路径）。
const (
	StateNavigate          = "navigate"
	StateChallenge         = "challenge"
	StateNumberEntry       = "number_entry"
	StateAwaitConfirmation = "await_confirmation"
	StateSingleConfirm     = "single_confirm"
	StateAmbiguous         = "ambiguous"
	StateFamilySelection   = "family_selection"
	StateFamilySubmit      = "family_submit"
	StateVisitor           = "visitor"
)

// Machine 驱动一次“输入号码 → 观察页面 → 走对应路径”的尝试。
//
// Machine 本身不保存尝试之间的状态；每次 Attempt 都从重新导航开始。
// 它独占 Driver，不可并发调用。
type Machine struct {
	Driver  form.Driver
	Page    Page
	Waits   Waits
	Pacer   *Pacer
	Matcher Matcher
	Log     *zap.Logger

	// Sleep 用于拦截页等待；nil 时使用可被 ctx 打断的 sleep。
	Sleep func(ctx context.Context, d time.Duration)
	// Now 用于统计耗时；nil 时使用 time.Now。
	Now func() time.Time
}

// NewMachine 用默认页面文本、等待上限与匹配规则构造 Machine。
func NewMachine(d form.Driver, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		Driver:  d,
		Page:    DefaultPage(""),
		Waits:   DefaultWaits(),
		Matcher: Matcher{Mode: MatchSubstring},
		Log:     log,
	}
}

// Attempt 用一个号码完成一次签到尝试，返回终态。
//
// 转移规则：
//   - 号码页提交后出现感谢语：Success（单人再点一次最后的 Submit，best-effort）
//   - 否则进入 Ambiguous：有成员列表走家庭选择；没有且为单人走访客路径；都不满足则失败
func (m *Machine) Attempt(ctx context.Context, number string, roster []string, isSingle bool) domain.Outcome {
	return m.AttemptTrace(ctx, number, roster, isSingle).Outcome
}

// AttemptTrace 与 Attempt 相同，额外返回经过的状态与耗时。
func (m *Machine) AttemptTrace(ctx context.Context, number string, roster []string, isSingle bool) (tr domain.AttemptTrace) {
	now := m.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	a := &attempt{
		m:        m,
		ctx:      ctx,
		roster:   roster,
		isSingle: isSingle,
		log:      m.logger().With(zap.String("number", number), zap.Bool("single", isSingle)),
	}
	defer func() {
		// Driver 实现若 panic（例如浏览器进程异常），也只影响这一次尝试。
		if r := recover(); r != nil {
			a.log.Error("签到尝试异常中止", zap.Any("panic", r))
			a.diag("panic")
			tr.Outcome = domain.Failure(domain.ReasonUnexpectedPageState)
		}
		tr.Number = number
		tr.Path = a.path
		if tr.Path == nil {
			tr.Path = []string{}
		}
		tr.Elapsed = now().Sub(start)
	}()

	tr.Outcome = a.run(number)
	a.log.Info("签到尝试结束", zap.Stringer("outcome", tr.Outcome), zap.Strings("path", a.path))
	return tr
}

func (m *Machine) logger() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

type attempt struct {
	m        *Machine
	ctx      context.Context
	roster   []string
	isSingle bool
	log      *zap.Logger
	path     []string
}

func (a *attempt) run(number string) domain.Outcome {
	if a.ctx.Err() != nil {
		return domain.Failure(domain.ReasonCanceled)
	}
	if a.submitNumber(number) {
		if a.isSingle {
			a.confirmSingle()
		}
		return domain.Success()
	}
	if a.ctx.Err() != nil {
		return domain.Failure(domain.ReasonCanceled)
	}
	return a.ambiguous()
}

// submitNumber 导航、输入号码并提交；返回是否观察到感谢语。
// 任何一步找不到元素或操作失败都返回 false（交给 Ambiguous 处理）。
func (a *attempt) submitNumber(number string) bool {
	d, p, w := a.m.Driver, a.m.Page, a.m.Waits

	a.enter(StateNavigate)
	if err := d.Navigate(a.ctx, p.URL); err != nil {
		a.log.Warn("打开签到页失败", zap.String("url", p.URL), zap.Error(err))
		a.diag("navigate_failed")
		return false
	}
	a.m.Pacer.Step(a.ctx)
	a.checkChallenge()

	a.enter(StateNumberEntry)
	in, ok := d.Find(a.ctx, form.Input(p.NumberPlaceholder), w.Element)
	if !ok {
		a.log.Warn("未找到号码输入框")
		return false
	}
	// 空号码也会清空输入框，再直接提交。
	if err := d.Type(a.ctx, in, number); err != nil {
		a.log.Warn("输入号码失败", zap.Error(err))
		return false
	}
	a.m.Pacer.Step(a.ctx)

	btn, ok := d.Find(a.ctx, form.Button(p.SubmitText), w.Submit)
	if !ok {
		a.log.Warn("未找到号码页 Submit 按钮")
		return false
	}
	if err := d.Click(a.ctx, btn); err != nil {
		a.log.Warn("点击 Submit 失败", zap.Error(err))
		return false
	}
	a.m.Pacer.Step(a.ctx)

	a.enter(StateAwaitConfirmation)
	_, ok = d.Find(a.ctx, form.Text(p.ThankYouText), w.Confirm)
	return ok
}

// checkChallenge 检测拦截页：只记录、等待一次并留存现场，不做任何绕过。
func (a *attempt) checkChallenge() {
	p := a.m.Page
	if len(p.ChallengeMarkers) == 0 || !a.m.Driver.PageContainsAny(a.ctx, p.ChallengeMarkers) {
		return
	}
	a.enter(StateChallenge)
	a.log.Warn("检测到反自动化拦截页，暂停等待", zap.Duration("pause", a.m.Waits.ChallengePause))
	a.sleep(a.m.Waits.ChallengePause)
	a.diag("challenge")
}

// confirmSingle 是单人成功后的二次提交；找不到或点击失败只留存现场，不改变结果。
func (a *attempt) confirmSingle() {
	a.enter(StateSingleConfirm)
	d := a.m.Driver
	btn, ok := d.Find(a.ctx, form.LastButton(a.m.Page.SubmitText), 0)
	if !ok {
		a.log.Debug("单人确认页没有第二个 Submit")
		a.diag("single_confirm_missing")
		return
	}
	if err := d.Click(a.ctx, btn); err != nil {
		a.log.Warn("单人二次提交失败", zap.Error(err))
		a.diag("single_confirm_failed")
		return
	}
	a.m.Pacer.Step(a.ctx)
}

func (a *attempt) ambiguous() domain.Outcome {
	a.enter(StateAmbiguous)
	a.diag("ambiguous")

	d, p := a.m.Driver, a.m.Page
	options := d.FindAll(a.ctx, form.Members(p.NonMemberOptions...), a.m.Waits.Element)
	if len(options) > 0 {
		return a.familySelection(options)
	}
	if !a.isSingle {
		a.log.Warn("既无成员列表也不是单人，无路可走")
		return domain.Failure(domain.ReasonAmbiguousNoPath)
	}
	return a.visitor()
}

func (a *attempt) familySelection(options []form.Element) domain.Outcome {
	a.enter(StateFamilySelection)
	d, p, w := a.m.Driver, a.m.Page, a.m.Waits

	selected := 0
	for _, opt := range options {
		name := strings.TrimSpace(opt.Text())
		if !a.m.Matcher.Match(name, a.roster) {
			a.log.Debug("成员不在名单中，跳过", zap.String("member", name))
			continue
		}
		if err := d.Click(a.ctx, opt); err != nil {
			a.log.Warn("选择成员失败", zap.String("member", name), zap.Error(err))
			a.diag("select_member_failed")
			continue
		}
		selected++
		a.log.Info("已选择成员", zap.String("member", name))
		a.m.Pacer.Step(a.ctx)
	}
	if selected == 0 {
		// 仍然提交：由页面决定是否接受空选择。
		a.log.Warn("选择页上没有任何成员与名单匹配", zap.Int("options", len(options)))
	}

	a.enter(StateFamilySubmit)
	btn, ok := d.Find(a.ctx, form.LastButton(p.SubmitText), w.Element)
	if !ok {
		a.diag("family_submit_missing")
		return domain.Failure(domain.ReasonFamilySubmitUnavailable)
	}
	if err := d.Click(a.ctx, btn); err != nil {
		a.log.Warn("家庭提交失败", zap.Error(err))
		a.diag("family_submit_failed")
		return domain.Failure(domain.ReasonFamilySubmitUnavailable)
	}
	a.m.Pacer.Step(a.ctx)

	if _, ok := d.Find(a.ctx, form.Text(p.ThankYouText), w.Confirm); ok {
		return domain.FamilySelectionSuccess()
	}
	a.diag("family_no_confirmation")
	return domain.Failure(domain.ReasonNoConfirmationAfterFamilySubmit)
}

func (a *attempt) visitor() domain.Outcome {
	a.enter(StateVisitor)
	if err := a.visitorSteps(); err != nil {
		a.log.Warn("访客路径失败", zap.Error(err))
		a.diag("visitor_failed")
		return domain.Failure(domain.ReasonVisitorPathFailed)
	}
	return domain.VisitorSuccess()
}

func (a *attempt) visitorSteps() error {
	d, p, w := a.m.Driver, a.m.Page, a.m.Waits
	if len(a.roster) == 0 || strings.TrimSpace(a.roster[0]) == "" {
		return fmt.Errorf("名单为空，无法填写访客姓名")
	}

	opt, ok := d.Find(a.ctx, form.Text(p.VisitingText), w.Element)
	if !ok {
		return fmt.Errorf("未找到 %q 选项", p.VisitingText)
	}
	if err := d.Click(a.ctx, opt); err != nil {
		return fmt.Errorf("点击 %q 失败：%w", p.VisitingText, err)
	}
	a.m.Pacer.Step(a.ctx)

	in, ok := d.Find(a.ctx, form.Input(p.VisitorPlaceholder), w.Element)
	if !ok {
		return fmt.Errorf("未找到访客姓名输入框")
	}
	if err := d.Type(a.ctx, in, a.roster[0]); err != nil {
		return fmt.Errorf("输入访客姓名失败：%w", err)
	}
	a.m.Pacer.Step(a.ctx)

	btn, ok := d.Find(a.ctx, form.LastButton(p.SubmitText), w.Element)
	if !ok {
		return fmt.Errorf("未找到访客 Submit 按钮")
	}
	if err := d.Click(a.ctx, btn); err != nil {
		return fmt.Errorf("点击访客 Submit 失败：%w", err)
	}
	a.m.Pacer.Step(a.ctx)

	if _, ok := d.Find(a.ctx, form.Text(p.ThankYouText), w.Confirm); !ok {
		return fmt.Errorf("访客提交后未出现感谢语")
	}
	return nil
}

func (a *attempt) enter(state string) {
	a.path = append(a.path, state)
	a.log.Debug("进入状态", zap.String("state", state))
}

func (a *attempt) diag(label string) {
	a.m.Driver.CaptureDiagnostic(a.ctx, label)
}

func (a *attempt) sleep(d time.Duration) {
	if a.m.Sleep != nil {
		a.m.Sleep(a.ctx, d)
		return
	}
	sleepCtx(a.ctx, d)
}
