// Package run 串起一次完整的签到运行：选批次 → 读名单 → 分组 → 驱动浏览器 → 清单与报告。
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/checkin/internal/app"
	"github.com/John-Robertt/checkin/internal/app/planner"
	"github.com/John-Robertt/checkin/internal/checkin"
	"github.com/John-Robertt/checkin/internal/config"
	"github.com/John-Robertt/checkin/internal/domain"
	"github.com/John-Robertt/checkin/internal/form"
	"github.com/John-Robertt/checkin/internal/form/rodform"
	"github.com/John-Robertt/checkin/internal/infra/diag"
	"github.com/John-Robertt/checkin/internal/infra/fsx"
	"github.com/John-Robertt/checkin/internal/ledger"
	"github.com/John-Robertt/checkin/internal/roster"
	"github.com/John-Robertt/checkin/internal/scan"
)

// ReportFileName 是写入 out 目录的报告文件名（每次运行原子替换）。
const ReportFileName = "report.json"

// Error 是运行级的致命错误（带 error_code），发生时不会开始或无法完成签到。
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s：%v", e.Code, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Code 返回 err 对应的稳定错误码。
func Code(err error) string {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	if c := config.Code(err); c != "" {
		return c
	}
	if roster.IsInvalid(err) {
		return domain.ErrCodeRosterInvalid
	}
	return domain.ErrCodeIOFailed
}

// OpenDriverFunc 打开一个浏览器会话。
type OpenDriverFunc func(ctx context.Context, eff config.EffectiveConfig, runID string, log *zap.Logger) (form.Driver, io.Closer, error)

// Deps 是 Execute 的可替换依赖；零值即生产配置。
type Deps struct {
	// OpenDriver 为 nil 时使用 LaunchBrowser。dry-run 不会调用。
	OpenDriver OpenDriverFunc
	Observer   Observer
	Log        *zap.Logger

	// RunID 为空时生成 uuid。
	RunID string
	Now   func() time.Time
}

// Execute 执行一次运行并返回报告。
//
// 错误分两类：
//   - scan.ErrNoBatch：没有待处理的批次，调用方按“无事可做”处理
//   - *Error：致命错误（名单无效、浏览器启动失败、落盘失败）
//
// 签到过程中的失败不会变成 error，它们都在报告与失败清单里。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) (domain.RunReport, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	obs := observerOrNop(deps.Observer)
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	runID := deps.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log = log.With(zap.String("run_id", runID))

	rr := domain.RunReport{RunID: runID, DryRun: eff.DryRun, StartedAt: now()}
	fail := func(code string, err error) (domain.RunReport, error) {
		rr.FinishedAt = now()
		rr.Finalize()
		return rr, &Error{Code: code, Err: err}
	}

	t0 := now()
	batch, err := selectSource(eff)
	if err != nil {
		if errors.Is(err, scan.ErrNoBatch) {
			rr.FinishedAt = now()
			rr.Finalize()
			return rr, err
		}
		return fail(domain.ErrCodeIOFailed, err)
	}
	rr.Source = batch.Path
	obs.OnPhaseDone("select", map[string]any{"source": batch.Path}, now().Sub(t0))
	log.Info("已选择名单", zap.String("source", batch.Path))

	t0 = now()
	records, err := roster.ReadFile(batch.Path)
	if err != nil {
		if roster.IsInvalid(err) {
			return fail(domain.ErrCodeRosterInvalid, err)
		}
		return fail(domain.ErrCodeIOFailed, err)
	}
	groups := app.GroupByFamily(records)
	obs.OnPhaseDone("roster", map[string]any{"records": len(records), "families": len(groups)}, now().Sub(t0))

	if eff.DryRun {
		return dryRun(rr, groups, obs, now), nil
	}

	open := deps.OpenDriver
	if open == nil {
		open = LaunchBrowser
	}
	drv, closer, err := open(ctx, eff, runID, log.Named("browser"))
	if err != nil {
		return fail(domain.ErrCodeBrowserFailed, err)
	}
	defer func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			log.Warn("关闭浏览器失败", zap.Error(err))
		}
	}()

	lw := &ledger.Writer{Dir: eff.Out, Now: now}
	coord := &Coordinator{
		Processor: NewOrchestrator(eff, drv, log),
		Sink:      lw,
		Observer:  obs,
		Log:       log.Named("coordinator"),
		RunID:     runID,
		Source:    batch.Path,
		Now:       now,
	}
	out, sinkErr := coord.Run(ctx, groups)
	out.StartedAt = rr.StartedAt.UTC()
	out.Ledger = lw.Path

	// 报告先于 sink 错误落盘：清单写失败时报告里仍有完整的失败列表。
	t0 = now()
	reportPath, werr := WriteReport(eff.Out, out)
	if werr != nil {
		log.Error("写入报告失败", zap.Error(werr))
	}
	obs.OnPhaseDone("report", map[string]any{"path": reportPath}, now().Sub(t0))
	if sinkErr != nil {
		return out, &Error{Code: domain.ErrCodeIOFailed, Err: sinkErr}
	}
	if werr != nil {
		return out, &Error{Code: domain.ErrCodeIOFailed, Err: werr}
	}

	if !batch.Processed() && eff.Roster == "" {
		dst, err := scan.MarkProcessed(batch)
		if err != nil {
			return out, &Error{Code: domain.ErrCodeIOFailed, Err: fmt.Errorf("标记批次已处理：%w", err)}
		}
		log.Info("批次已标记为已处理", zap.String("path", dst))
	}
	return out, nil
}

func dryRun(rr domain.RunReport, groups []domain.FamilyGroup, obs Observer, now func() time.Time) domain.RunReport {
	plans := planner.PlanAll(groups)
	rr.Plan = make([]domain.PlannedUnit, 0, len(plans))
	members := 0
	for _, p := range plans {
		rr.Plan = append(rr.Plan, p.View())
		members += len(p.Members)
	}
	obs.OnStart(StartInfo{RunID: rr.RunID, Source: rr.Source, DryRun: true, Units: len(plans), Members: members})
	rr.FinishedAt = now()
	rr.Finalize()
	obs.OnFinish(rr)
	return rr
}

// selectSource 返回本次要处理的名单：显式 roster 优先，否则从 inbox 选择最新批次。
func selectSource(eff config.EffectiveConfig) (scan.Batch, error) {
	if p := strings.TrimSpace(eff.Roster); p != "" {
		return scan.Batch{Path: p, Name: filepath.Base(p)}, nil
	}
	return scan.SelectBatch(eff.Inbox, eff.FilePrefix)
}

// WriteReport 把报告原子写入 <dir>/report.json，返回文件路径。
func WriteReport(dir string, rr domain.RunReport) (string, error) {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return "", err
	}
	b = append(b, '\n')
	if err := fsx.WriteFileAtomic(dir, ReportFileName, b); err != nil {
		return "", err
	}
	return filepath.Join(dir, ReportFileName), nil
}

// NewOrchestrator 按配置组装状态机与家庭编排器。
func NewOrchestrator(eff config.EffectiveConfig, drv form.Driver, log *zap.Logger) *checkin.Orchestrator {
	m := checkin.NewMachine(drv, log.Named("machine"))
	m.Page = checkin.DefaultPage(eff.URL)
	m.Waits = checkin.Waits{
		Element:        eff.Waits.Element,
		Submit:         eff.Waits.Submit,
		Confirm:        eff.Waits.Confirm,
		ChallengePause: eff.Waits.ChallengePause,
	}
	m.Matcher = checkin.Matcher{
		Mode:            checkin.MatchMode(eff.Match.Mode),
		Threshold:       eff.Match.FuzzyThreshold,
		PrefixThreshold: eff.Match.FuzzyPrefixThreshold,
	}

	o := &checkin.Orchestrator{Attempter: m, Log: log.Named("family")}
	if eff.Pacing.Enabled {
		p := checkin.NewPacer(eff.Pacing.MinDelay, eff.Pacing.MaxDelay, eff.Pacing.RetryPause)
		m.Pacer = p
		o.Pacer = p
	}
	return o
}

// BrowserOptions 把配置映射为 rodform 的会话参数。
func BrowserOptions(eff config.EffectiveConfig) rodform.Options {
	opts := rodform.DefaultOptions()
	b := eff.Browser
	opts.Bin = b.Bin
	opts.Headless = b.Headless
	opts.NoSandbox = b.NoSandbox
	opts.Proxy = b.ProxyURL
	opts.UserAgent = b.UserAgent
	if b.WindowWidth > 0 && b.WindowHeight > 0 {
		opts.WindowSize = fmt.Sprintf("%d,%d", b.WindowWidth, b.WindowHeight)
	}
	opts.ExtraFlags = append([]string(nil), b.ExtraFlags...)
	if eff.Waits.PageLoad > 0 {
		opts.NavigationTimeout = eff.Waits.PageLoad
	}
	if eff.Pacing.Enabled {
		opts.KeyDelayMin = eff.Pacing.KeyMin
		opts.KeyDelayMax = eff.Pacing.KeyMax
	} else {
		opts.KeyDelayMin, opts.KeyDelayMax = 0, 0
	}
	return opts
}

// LaunchBrowser 是生产环境的 OpenDriverFunc：启动 Chrome，现场留存到 <diagnostics>/<runID>/。
func LaunchBrowser(ctx context.Context, eff config.EffectiveConfig, runID string, log *zap.Logger) (form.Driver, io.Closer, error) {
	d, err := rodform.Launch(ctx, BrowserOptions(eff), diag.New(eff.Diagnostics, runID), log)
	if err != nil {
		return nil, nil, err
	}
	return d, d, nil
}
