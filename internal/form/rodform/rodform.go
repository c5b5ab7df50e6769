// Package rodform 用 go-rod 驱动真实 Chrome，实现 form.Driver。
package rodform

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/John-Robertt/checkin/internal/form"
	"github.com/John-Robertt/checkin/internal/infra/httpx"
)

// 未显式指定浏览器时按顺序探测。
var chromeCandidates = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
}

// 隐藏 navigator.webdriver，在每个新文档加载前执行。
const stealthJS = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Options 描述浏览器会话。
type Options struct {
	Bin        string // 空：自动探测
	Headless   bool
	NoSandbox  bool
	Proxy      string
	UserAgent  string // 空：从 UA 池随机取
	WindowSize string // "1920,1080"

	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	KeyDelayMin       time.Duration
	KeyDelayMax       time.Duration

	// ExtraFlags 追加到 Chrome 命令行，形如 "--lang=en-US" 或 "mute-audio"。
	ExtraFlags []string
}

func DefaultOptions() Options {
	return Options{
		Headless:          true,
		NoSandbox:         true,
		WindowSize:        "1920,1080",
		NavigationTimeout: 15 * time.Second,
		ActionTimeout:     10 * time.Second,
		KeyDelayMin:       50 * time.Millisecond,
		KeyDelayMax:       200 * time.Millisecond,
	}
}

// DiagSink 保存页面现场；由 infra/diag.Store 实现。
type DiagSink interface {
	// Enabled 为 false 时 Driver 不截图也不读 HTML。
	Enabled() bool
	Save(label string, png, html []byte) (pngPath, htmlPath string, err error)
}

// Driver 是一个浏览器会话（一个 tab）。不可并发使用。
type Driver struct {
	opts Options
	log  *zap.Logger
	diag DiagSink

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	rnd *rand.Rand
}

var _ form.Driver = (*Driver)(nil)

// Launch 启动 Chrome 并打开一个已做反检测处理的空白页。
func Launch(ctx context.Context, opts Options, diag DiagSink, log *zap.Logger) (*Driver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts = withDefaults(opts)
	ua := opts.UserAgent
	if ua == "" {
		ua = httpx.RandomUserAgent()
	}

	bin := resolveBin(opts.Bin, fileExists)
	l := newLauncher(opts, bin, ua).Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败（bin=%q）：%w", bin, err)
	}

	d := &Driver{
		opts:     opts,
		log:      log,
		diag:     diag,
		launcher: l,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		d.killLauncher()
		return nil, fmt.Errorf("连接浏览器失败：%w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("打开页面失败：%w", err)
	}
	d.page = page

	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("注入页面脚本失败：%w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("设置 UA 失败：%w", err)
	}
	if w, h, ok := parseWindowSize(opts.WindowSize); ok {
		if err := (proto.EmulationSetDeviceMetricsOverride{Width: w, Height: h, DeviceScaleFactor: 1}).Call(page); err != nil {
			log.Warn("设置视口失败", zap.Error(err))
		}
	}

	log.Info("浏览器已启动", zap.String("bin", bin), zap.Bool("headless", opts.Headless), zap.String("user_agent", ua))
	return d, nil
}

// Close 关闭页面、浏览器与子进程（幂等）。
func (d *Driver) Close() error {
	var errs []error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			errs = append(errs, err)
		}
		d.page = nil
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		d.browser = nil
	}
	d.killLauncher()
	return errors.Join(errs...)
}

func (d *Driver) killLauncher() {
	if d.launcher == nil {
		return
	}
	d.launcher.Kill()
	d.launcher.Cleanup()
	d.launcher = nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx).Timeout(d.opts.NavigationTimeout)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (d *Driver) Find(ctx context.Context, q form.Query, timeout time.Duration) (form.Element, bool) {
	x := xpathFor(q)
	if x == "" {
		return nil, false
	}
	el, err := d.waitX(ctx, x, timeout)
	if err != nil {
		d.log.Debug("未找到元素", zap.String("xpath", x), zap.Duration("timeout", timeout), zap.Error(err))
		return nil, false
	}
	return d.wrap(ctx, q.Kind, el), true
}

func (d *Driver) FindAll(ctx context.Context, q form.Query, timeout time.Duration) []form.Element {
	x := xpathFor(q)
	if x == "" {
		return nil
	}
	if _, err := d.waitX(ctx, x, timeout); err != nil {
		return nil
	}
	els, err := d.page.Context(ctx).ElementsX(x)
	if err != nil {
		d.log.Debug("列出元素失败", zap.String("xpath", x), zap.Error(err))
		return nil
	}
	out := make([]form.Element, 0, len(els))
	for _, el := range els {
		out = append(out, d.wrap(ctx, q.Kind, el))
	}
	return out
}

// waitX 在 timeout 内等待首个匹配；timeout<=0 只检查当前页面一次。
func (d *Driver) waitX(ctx context.Context, x string, timeout time.Duration) (*rod.Element, error) {
	if timeout <= 0 {
		has, el, err := d.page.Context(ctx).HasX(x)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, form.ErrNotFound
		}
		return el, nil
	}
	el, err := d.page.Context(ctx).Timeout(timeout).ElementX(x)
	if err != nil {
		return nil, err
	}
	// 元素会继承超时 context，后续点击/输入前必须解除。
	return el.CancelTimeout(), nil
}

func (d *Driver) Click(ctx context.Context, fe form.Element) error {
	e, ok := fe.(*element)
	if !ok || e == nil {
		return fmt.Errorf("rodform: 非本驱动创建的元素 %T", fe)
	}
	target := e.el
	if e.kind == form.KindMemberOption {
		btn, err := e.el.Context(ctx).Timeout(d.opts.ActionTimeout).ElementX(memberSelectorX)
		if err != nil {
			return fmt.Errorf("未找到成员 %q 的选择按钮：%w", e.text, err)
		}
		target = btn.CancelTimeout()
	}
	return target.Context(ctx).Timeout(d.opts.ActionTimeout).Click(proto.InputMouseButtonLeft, 1)
}

// Type 清空输入框后逐字输入，每个字符之间随机停顿。
func (d *Driver) Type(ctx context.Context, fe form.Element, text string) error {
	e, ok := fe.(*element)
	if !ok || e == nil {
		return fmt.Errorf("rodform: 非本驱动创建的元素 %T", fe)
	}
	el := e.el.Context(ctx)
	if err := el.Timeout(d.opts.ActionTimeout).SelectAllText(); err != nil {
		return fmt.Errorf("选中输入框内容失败：%w", err)
	}
	if err := el.Timeout(d.opts.ActionTimeout).Input(""); err != nil {
		return fmt.Errorf("清空输入框失败：%w", err)
	}
	for _, r := range text {
		if err := el.Timeout(d.opts.ActionTimeout).Input(string(r)); err != nil {
			return fmt.Errorf("输入失败：%w", err)
		}
		d.keyPause(ctx)
	}
	return nil
}

func (d *Driver) PageContainsAny(ctx context.Context, markers []string) bool {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		d.log.Debug("读取页面 HTML 失败", zap.Error(err))
		return false
	}
	m, ok := form.MatchMarkers([]byte(html), markers)
	if ok {
		d.log.Debug("页面命中标记", zap.String("marker", m))
	}
	return ok
}

// CaptureDiagnostic 保存截图与 HTML。取消中的 ctx 也照常留存现场。
func (d *Driver) CaptureDiagnostic(ctx context.Context, label string) {
	if d.diag == nil || !d.diag.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.ActionTimeout)
	defer cancel()

	p := d.page.Context(ctx)
	png, err := p.Screenshot(true, nil)
	if err != nil {
		d.log.Debug("截图失败", zap.String("label", label), zap.Error(err))
	}
	html, err := p.HTML()
	if err != nil {
		d.log.Debug("读取页面 HTML 失败", zap.String("label", label), zap.Error(err))
	}
	pngPath, htmlPath, err := d.diag.Save(label, png, []byte(html))
	if err != nil {
		d.log.Debug("未保存页面现场", zap.String("label", label), zap.Error(err))
		return
	}
	d.log.Info("已保存页面现场", zap.String("label", label), zap.String("screenshot", pngPath), zap.String("html", htmlPath))
}

func (d *Driver) keyPause(ctx context.Context) {
	lo, hi := d.opts.KeyDelayMin, d.opts.KeyDelayMax
	if hi <= 0 {
		return
	}
	delay := lo
	if hi > lo {
		delay += time.Duration(d.rnd.Int63n(int64(hi - lo)))
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

type element struct {
	el   *rod.Element
	kind form.Kind
	text string
}

func (e *element) Text() string { return e.text }

func (d *Driver) wrap(ctx context.Context, kind form.Kind, el *rod.Element) *element {
	text, err := el.Context(ctx).Text()
	if err != nil {
		d.log.Debug("读取元素文本失败", zap.Error(err))
	}
	return &element{el: el, kind: kind, text: strings.TrimSpace(text)}
}

func newLauncher(opts Options, bin, ua string) *launcher.Launcher {
	l := launcher.New()
	if bin != "" {
		l = l.Bin(bin)
	}
	// 使用新版 headless（与有头模式同一渲染路径，更不容易被识别）。
	l = l.Headless(false)
	if opts.Headless {
		l = l.Set(flags.Headless, "new")
	}
	l = l.NoSandbox(opts.NoSandbox).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("disable-dev-shm-usage"))
	if opts.WindowSize != "" {
		l = l.Set(flags.Flag("window-size"), opts.WindowSize)
	}
	if ua != "" {
		l = l.Set(flags.Flag("user-agent"), ua)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}
	for _, raw := range opts.ExtraFlags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(strings.TrimSpace(raw), "-"), "=")
		if name == "" {
			continue
		}
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// resolveBin 返回要使用的浏览器路径；都找不到时返回空串，交给 rod 自己查找或下载。
func resolveBin(explicit string, exists func(string) bool) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	for _, c := range chromeCandidates {
		if exists(c) {
			return c
		}
	}
	if p, ok := launcher.LookPath(); ok {
		return p
	}
	return ""
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func parseWindowSize(s string) (int, int, bool) {
	var w, h int
	if _, err := fmt.Sscanf(strings.ReplaceAll(s, "x", ","), "%d,%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func withDefaults(o Options) Options {
	def := DefaultOptions()
	if o.WindowSize == "" {
		o.WindowSize = def.WindowSize
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = def.NavigationTimeout
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = def.ActionTimeout
	}
	return o
}
