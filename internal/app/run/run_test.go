package run

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/John-Robertt/checkin/internal/config"
	"github.com/John-Robertt/checkin/internal/domain"
	"github.com/John-Robertt/checkin/internal/form"
	"github.com/John-Robertt/checkin/internal/form/formtest"
	"github.com/John-Robertt/checkin/internal/scan"
)

const rosterCSV = "Family,Name,Number\n" +
	"Doe,Jane Doe,123456789\n" +
	"Doe,John Doe,0987654321\n" +
	",Ann Lee,'0555555555\n"

type closeCounter struct{ n int }

func (c *closeCounter) Close() error { c.n++; return nil }

func testEff(t *testing.T) config.EffectiveConfig {
	t.Helper()
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	return config.EffectiveConfig{
		URL:        "https://form.test/checkin",
		Inbox:      inbox,
		FilePrefix: "export_",
		Out:        filepath.Join(root, "out"),
		Waits: config.Waits{
			Element: time.Second,
			Submit:  time.Second,
			Confirm: time.Second,
		},
		Match: config.Match{Mode: config.MatchSubstring},
	}
}

func writeBatch(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("写入名单失败：%v", err)
	}
	return p
}

func fakeBrowser(d *formtest.Driver, c *closeCounter) OpenDriverFunc {
	return func(ctx context.Context, eff config.EffectiveConfig, runID string, log *zap.Logger) (form.Driver, io.Closer, error) {
		return d, c, nil
	}
}

func fixedNow() func() time.Time {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestExecute_DryRun_NoBrowserNoWrites(t *testing.T) {
	eff := testEff(t)
	eff.DryRun = true
	src := writeBatch(t, eff.Inbox, "export_a.csv", rosterCSV)

	opened := false
	rr, err := Execute(context.Background(), eff, Deps{
		OpenDriver: func(context.Context, config.EffectiveConfig, string, *zap.Logger) (form.Driver, io.Closer, error) {
			opened = true
			return nil, nil, errors.New("不应启动浏览器")
		},
		Log: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if opened {
		t.Fatalf("dry-run 不应启动浏览器")
	}
	if !rr.DryRun || rr.Source != src {
		t.Fatalf("报告头不符合预期：dry_run=%v source=%q", rr.DryRun, rr.Source)
	}
	if len(rr.Plan) != 2 {
		t.Fatalf("计划单元数不符合预期：%+v", rr.Plan)
	}
	if got := rr.Plan[0].Candidates[0].Number; got != "0123456789" {
		t.Fatalf("9 位号码应补前导 0：%q", got)
	}
	if !rr.Plan[1].IsSingle || rr.Plan[1].Members[0] != "Ann Lee" {
		t.Fatalf("空 family 应为单人单元：%+v", rr.Plan[1])
	}
	if rr.Summary.Units != 2 || rr.Summary.Members != 3 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	if _, err := os.Stat(eff.Out); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应创建 out 目录：err=%v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("dry-run 不应改名批次文件：%v", err)
	}
}

func TestExecute_AllCheckedIn_WritesReportAndMarksProcessed(t *testing.T) {
	eff := testEff(t)
	src := writeBatch(t, eff.Inbox, "export_a.csv", rosterCSV)

	d := formtest.New(formtest.Scenario{NumberInput: true, SubmitButton: true, ConfirmAfterSubmit: true, SecondSubmit: true})
	cc := &closeCounter{}
	rr, err := Execute(context.Background(), eff, Deps{
		OpenDriver: fakeBrowser(d, cc),
		Log:        zaptest.NewLogger(t),
		RunID:      "run-1",
		Now:        fixedNow(),
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if cc.n != 1 {
		t.Fatalf("浏览器应恰好关闭一次：%d", cc.n)
	}
	if rr.Summary.CheckedIn != 3 || rr.Summary.Failed != 0 || rr.Ledger != "" {
		t.Fatalf("报告不符合预期：summary=%+v ledger=%q", rr.Summary, rr.Ledger)
	}
	// 家庭一次成功即停；单人独立签到。
	if d.Navigations != 2 {
		t.Fatalf("导航次数不符合预期：%d", d.Navigations)
	}
	if !slices.Equal(d.Typed, []string{"0123456789", "0555555555"}) {
		t.Fatalf("输入号码不符合预期：%v", d.Typed)
	}

	b, err := os.ReadFile(filepath.Join(eff.Out, ReportFileName))
	if err != nil {
		t.Fatalf("读取 report.json 失败：%v", err)
	}
	var got domain.RunReport
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("report.json 不是合法 JSON：%v", err)
	}
	if got.RunID != "run-1" || got.Source != src || len(got.Families) != 2 {
		t.Fatalf("report.json 内容不符合预期：%s", string(b))
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("成功运行后原批次应被改名：err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(eff.Inbox, scan.ProcessedName("export_a.csv"))); err != nil {
		t.Fatalf("缺少已处理批次：%v", err)
	}
	if _, err := scan.SelectBatch(eff.Inbox, eff.FilePrefix); !errors.Is(err, scan.ErrNoBatch) {
		t.Fatalf("已处理批次不应再被选中：err=%v", err)
	}
}

func TestExecute_FailuresWriteLedgerWithRawNumbers(t *testing.T) {
	eff := testEff(t)
	writeBatch(t, eff.Inbox, "export_a.csv", rosterCSV)

	// 页面始终没有任何可用元素：每次尝试都失败。
	d := formtest.New(formtest.Scenario{})
	rr, err := Execute(context.Background(), eff, Deps{
		OpenDriver: fakeBrowser(d, &closeCounter{}),
		Log:        zaptest.NewLogger(t),
		Now:        fixedNow(),
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rr.Summary.Failed != 3 || rr.Summary.CheckedIn != 0 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	// 家庭两个号码都试过，单人一次。
	if d.Navigations != 3 {
		t.Fatalf("导航次数不符合预期：%d", d.Navigations)
	}
	if rr.Ledger == "" {
		t.Fatalf("有失败时应写出失败清单")
	}
	b, err := os.ReadFile(rr.Ledger)
	if err != nil {
		t.Fatalf("读取失败清单失败：%v", err)
	}
	want := "Family,Name,Number\nDoe,Jane Doe,123456789\nDoe,John Doe,0987654321\n,Ann Lee,0555555555\n"
	if string(b) != want {
		t.Fatalf("失败清单不符合预期：\n%s", string(b))
	}
	if rr.Failures[2].Reason != domain.ReasonVisitorPathFailed {
		t.Fatalf("单人失败原因不符合预期：%+v", rr.Failures[2])
	}
}

func TestExecute_ExplicitRosterIsNotRenamed(t *testing.T) {
	eff := testEff(t)
	eff.Roster = writeBatch(t, t.TempDir(), "sunday.csv", rosterCSV)

	d := formtest.New(formtest.Scenario{NumberInput: true, SubmitButton: true, ConfirmAfterSubmit: true})
	if _, err := Execute(context.Background(), eff, Deps{OpenDriver: fakeBrowser(d, &closeCounter{}), Now: fixedNow()}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := os.Stat(eff.Roster); err != nil {
		t.Fatalf("显式名单不应被改名：%v", err)
	}
}

func TestExecute_NoBatch(t *testing.T) {
	eff := testEff(t)
	_, err := Execute(context.Background(), eff, Deps{})
	if !errors.Is(err, scan.ErrNoBatch) {
		t.Fatalf("期望 ErrNoBatch，实际：%v", err)
	}
}

func TestExecute_FatalErrorsCarryCodes(t *testing.T) {
	t.Run("roster_invalid", func(t *testing.T) {
		eff := testEff(t)
		writeBatch(t, eff.Inbox, "export_a.csv", "Family,Name\nDoe,Jane\n")
		_, err := Execute(context.Background(), eff, Deps{})
		if Code(err) != domain.ErrCodeRosterInvalid {
			t.Fatalf("error_code 不符合预期：%q (%v)", Code(err), err)
		}
	})

	t.Run("browser_failed", func(t *testing.T) {
		eff := testEff(t)
		src := writeBatch(t, eff.Inbox, "export_a.csv", rosterCSV)
		_, err := Execute(context.Background(), eff, Deps{
			OpenDriver: func(context.Context, config.EffectiveConfig, string, *zap.Logger) (form.Driver, io.Closer, error) {
				return nil, nil, errors.New("no chrome")
			},
		})
		if Code(err) != domain.ErrCodeBrowserFailed || !strings.Contains(err.Error(), "no chrome") {
			t.Fatalf("error 不符合预期：%q (%v)", Code(err), err)
		}
		if _, err := os.Stat(src); err != nil {
			t.Fatalf("启动失败时不应改名批次：%v", err)
		}
	})
}

func TestExecute_CanceledBeforeStartLedgersEverything(t *testing.T) {
	eff := testEff(t)
	writeBatch(t, eff.Inbox, "export_a.csv", rosterCSV)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := formtest.New(formtest.Scenario{NumberInput: true, SubmitButton: true, ConfirmAfterSubmit: true})
	rr, err := Execute(ctx, eff, Deps{OpenDriver: fakeBrowser(d, &closeCounter{}), Now: fixedNow()})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if d.Navigations != 0 {
		t.Fatalf("取消后不应导航：%d", d.Navigations)
	}
	if len(rr.Failures) != 3 {
		t.Fatalf("取消时每条记录都应进入失败清单：%+v", rr.Failures)
	}
	for _, f := range rr.Failures {
		if f.Reason != domain.ReasonCanceled {
			t.Fatalf("原因应为 canceled：%+v", f)
		}
	}
}

func TestBrowserOptions(t *testing.T) {
	eff := testEff(t)
	eff.Browser = config.Browser{Bin: "/opt/chrome", Headless: true, WindowWidth: 1280, WindowHeight: 720, ProxyURL: "http://127.0.0.1:8080"}
	eff.Waits.PageLoad = 20 * time.Second
	eff.Pacing = config.Pacing{Enabled: true, KeyMin: 10 * time.Millisecond, KeyMax: 30 * time.Millisecond}

	o := BrowserOptions(eff)
	if o.Bin != "/opt/chrome" || !o.Headless || o.WindowSize != "1280,720" || o.Proxy != "http://127.0.0.1:8080" {
		t.Fatalf("浏览器参数不符合预期：%+v", o)
	}
	if o.NavigationTimeout != 20*time.Second || o.KeyDelayMin != 10*time.Millisecond || o.KeyDelayMax != 30*time.Millisecond {
		t.Fatalf("等待参数不符合预期：%+v", o)
	}

	eff.Pacing.Enabled = false
	if o := BrowserOptions(eff); o.KeyDelayMin != 0 || o.KeyDelayMax != 0 {
		t.Fatalf("关闭 pacing 时不应有按键延迟：%+v", o)
	}
}
