package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/checkin/internal/app/run"
	"github.com/John-Robertt/checkin/internal/checkin"
	"github.com/John-Robertt/checkin/internal/config"
	"github.com/John-Robertt/checkin/internal/form"
	"github.com/John-Robertt/checkin/internal/infra/httpx"
	"github.com/John-Robertt/checkin/internal/probe"
)

type probeFlags struct {
	config     string
	url        string
	timeout    time.Duration
	cloudflare bool
	browser    bool
}

// probeOutput 是 probe 输出到 stdout 的 JSON。
type probeOutput struct {
	HTTP      probe.Result   `json:"http"`
	HTTPError string         `json:"http_error,omitempty"`
	Browser   *browserResult `json:"browser,omitempty"`
	Ready     bool           `json:"ready"`
}

type browserResult struct {
	HasNumberInput bool   `json:"has_number_input"`
	Blocked        bool   `json:"blocked"`
	Error          string `json:"error,omitempty"`
}

func (c *cli) probeCmd() *cobra.Command {
	var f probeFlags
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "预检签到页：是否可达、是否被拦截",
		Long: `probe 用 HTTP 拉取签到页，判断是否返回了反自动化拦截页；
--browser 额外启动一次浏览器，确认号码输入框能在页面上出现。未就绪（被拦截或不可达）时退出码为 1。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runProbe(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "配置文件（默认 ./checkin.json，可选）")
	fl.StringVar(&f.url, "url", "", "签到表单地址")
	fl.DurationVar(&f.timeout, "timeout", 20*time.Second, "HTTP 预检总超时")
	fl.BoolVar(&f.cloudflare, "cf-headers", true, "预检请求使用浏览器化的请求头")
	fl.BoolVar(&f.browser, "browser", false, "额外用浏览器检查号码输入框")
	return cmd
}

func (c *cli) runProbe(ctx context.Context, f probeFlags) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fail(fmt.Errorf("读取当前目录失败：%w", err))
	}
	eff, err := config.LoadEffective(cwd, config.CLIArgs{ConfigPath: f.config, URL: f.url}, nil)
	if err != nil {
		return fail(fmt.Errorf("%s：%w", config.Code(err), err))
	}
	log := c.log.With(zap.String("cmd", "probe"))
	page := checkin.DefaultPage(eff.URL)

	client, err := httpx.NewClient(httpx.Options{
		ProxyURL:          eff.Browser.ProxyURL,
		Timeout:           f.timeout,
		CloudflareHeaders: f.cloudflare,
	})
	if err != nil {
		return fail(fmt.Errorf("初始化 HTTP 客户端失败：%w", err))
	}

	var out probeOutput
	res, herr := probe.Check(ctx, client, page)
	out.HTTP = res
	if herr != nil {
		out.HTTPError = herr.Error()
		log.Warn("HTTP 预检未通过", zap.Error(herr))
	}
	out.Ready = herr == nil

	if f.browser {
		br := c.browserProbe(ctx, eff, page, log)
		out.Browser = &br
		// 浏览器结论优先：HTTP 预检看不到脚本渲染的表单，也可能被单独拦截。
		out.Ready = br.Error == "" && !br.Blocked && br.HasNumberInput
	}

	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	if !out.Ready {
		return &exitError{code: exitFailure}
	}
	return nil
}

// browserProbe 启动一次浏览器打开签到页；拦截页只等待一次，不做任何求解。
func (c *cli) browserProbe(ctx context.Context, eff config.EffectiveConfig, page checkin.Page, log *zap.Logger) browserResult {
	drv, closer, err := run.LaunchBrowser(ctx, eff, "probe", log.Named("browser"))
	if err != nil {
		return browserResult{Error: err.Error()}
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Warn("关闭浏览器失败", zap.Error(err))
		}
	}()

	if err := drv.Navigate(ctx, page.URL); err != nil {
		return browserResult{Error: err.Error()}
	}
	var br browserResult
	if drv.PageContainsAny(ctx, page.ChallengeMarkers) {
		log.Info("检测到拦截页，等待后重试", zap.Duration("pause", eff.Waits.ChallengePause))
		select {
		case <-time.After(eff.Waits.ChallengePause):
		case <-ctx.Done():
			return browserResult{Error: ctx.Err().Error()}
		}
		br.Blocked = drv.PageContainsAny(ctx, page.ChallengeMarkers)
	}
	_, br.HasNumberInput = drv.Find(ctx, form.Input(page.NumberPlaceholder), eff.Waits.Element)
	if !br.HasNumberInput {
		drv.CaptureDiagnostic(ctx, "probe_no_number_input")
	}
	return br
}
