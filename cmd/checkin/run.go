package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/checkin/internal/app/run"
	"github.com/John-Robertt/checkin/internal/config"
	"github.com/John-Robertt/checkin/internal/domain"
	"github.com/John-Robertt/checkin/internal/scan"
)

type runFlags struct {
	config   string
	roster   string
	inbox    string
	out      string
	url      string
	dryRun   bool
	headless bool
}

func (c *cli) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "选择最新的名单批次并逐个家庭签到",
		Long: `run 的流程：读取配置 → 从 inbox 选择最新的未处理批次（或 --roster 指定的文件）
→ 按家庭分组 → 启动浏览器逐个签到 → 写失败清单与 report.json → 把批次标记为已处理。

--dry-run 只打印签到计划（每个单元的候选号码），不启动浏览器也不写任何文件。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRun(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "配置文件（默认 ./checkin.json，可选）")
	fl.StringVar(&f.roster, "roster", "", "直接使用该名单文件，跳过 inbox 选择")
	fl.StringVar(&f.inbox, "inbox", "", "名单批次所在目录")
	fl.StringVar(&f.out, "out", "", "失败清单与报告的输出目录")
	fl.StringVar(&f.url, "url", "", "签到表单地址")
	fl.BoolVar(&f.dryRun, "dry-run", false, "只打印计划，不签到")
	fl.BoolVar(&f.headless, "headless", true, "无头模式运行浏览器（--headless=false 显示窗口）")
	return cmd
}

func (c *cli) runRun(cmd *cobra.Command, f runFlags) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fail(fmt.Errorf("读取当前目录失败：%w", err))
	}

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		ConfigPath:  f.config,
		Roster:      f.roster,
		Inbox:       f.inbox,
		Out:         f.out,
		URL:         f.url,
		DryRun:      f.dryRun,
		DryRunSet:   cmd.Flags().Changed("dry-run"),
		Headless:    f.headless,
		HeadlessSet: cmd.Flags().Changed("headless"),
	}, nil)
	if err != nil {
		return fail(fmt.Errorf("%s：%w", config.Code(err), err))
	}
	log := c.log.With(zap.String("cmd", "run"))
	log.Debug("生效配置",
		zap.String("config", eff.ConfigPath),
		zap.String("url", eff.URL),
		zap.String("inbox", eff.Inbox),
		zap.String("out", eff.Out),
		zap.Bool("dry_run", eff.DryRun),
	)

	progressW, interactive := c.pickProgressWriter()
	var obs run.Observer
	var ui *progressUI
	if interactive {
		ui = newProgressUI(progressW)
		obs = ui
	}

	rr, err := run.Execute(cmd.Context(), eff, run.Deps{Observer: obs, Log: log})
	if ui != nil {
		ui.Stop()
	}
	if errors.Is(err, scan.ErrNoBatch) {
		fmt.Fprintf(c.stderr, "没有待处理的名单（inbox=%s prefix=%s）\n", eff.Inbox, eff.FilePrefix)
		return nil
	}
	if err != nil {
		log.Error("运行失败", zap.String("error_code", run.Code(err)), zap.Error(err))
		return fail(err)
	}

	c.emitReport(rr)
	if interactive {
		emitLocations(progressW, eff, rr)
	}
	if rr.Summary.Failed > 0 {
		return &exitError{code: exitFailure}
	}
	return nil
}

// emitReport 遵守 stdout 契约：非 TTY 时 stdout 只输出一个 RunReport JSON，摘要走 stderr。
func (c *cli) emitReport(rr domain.RunReport) {
	if isTTY(c.stdout) {
		if rr.DryRun {
			printPlan(c.stdout, rr.Plan)
		}
		fmt.Fprintln(c.stdout, summaryLine(rr))
		for _, f := range rr.Failures {
			fmt.Fprintf(c.stderr, "%s %s %s: %s\n", familyLabel(f.Family), f.Name, f.Number, f.Reason)
		}
		return
	}

	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rr)
	fmt.Fprintln(c.stderr, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	if rr.DryRun {
		return fmt.Sprintf("计划：units=%d members=%d（dry-run，未签到）", s.Units, s.Members)
	}
	return fmt.Sprintf("完成：units=%d members=%d checked_in=%d failed=%d", s.Units, s.Members, s.CheckedIn, s.Failed)
}

func printPlan(w io.Writer, plan []domain.PlannedUnit) {
	for i, u := range plan {
		kind := "family"
		if u.IsSingle {
			kind = "single"
		}
		fmt.Fprintf(w, "[%d/%d] %s %s: %s\n", i+1, len(plan), familyLabel(u.Family), kind, strings.Join(u.Members, ", "))
		for _, cand := range u.Candidates {
			fmt.Fprintf(w, "    %s %s -> %s\n", cand.Name, cand.Raw, cand.Number)
		}
	}
}

func familyLabel(key string) string {
	if key == "" {
		return "(无家庭)"
	}
	return key
}

func (c *cli) pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(c.stderr) {
		return c.stderr, true
	}
	if isTTY(c.stdout) {
		return c.stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig, rr domain.RunReport) {
	if w == nil || rr.DryRun {
		return
	}
	fmt.Fprintf(w, "report: %s\n", filepath.Join(eff.Out, run.ReportFileName))
	if rr.Ledger != "" {
		fmt.Fprintf(w, "failed: %s\n", rr.Ledger)
	}
	fmt.Fprintf(w, "out: %s\n", eff.Out)
}
