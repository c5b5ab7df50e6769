// Package config 发现、读取并合并运行配置：内置默认 < checkin.json < checkin.local.json < 环境变量 < CLI。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// DefaultFileName 是工作目录下默认查找的配置文件名。
	DefaultFileName   = "checkin.json"
	DefaultURL        = "https://click.ledeinchristus.com/checkin?cong=Centurion"
	DefaultFilePrefix = "export_"

	MatchSubstring = "substring"
	MatchFuzzy     = "fuzzy"
)

// CLIArgs 是 CLI 暴露的覆盖项，保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --headless=false 必须能覆盖配置里的 true。
type CLIArgs struct {
	ConfigPath string

	Roster string
	Inbox  string
	Out    string
	URL    string

	DryRun    bool
	DryRunSet bool

	Headless    bool
	HeadlessSet bool
}

// FileConfig 对应 checkin.json（JSON5：允许注释与尾逗号）。
// 指针字段用于区分“未设置”与“显式设为零值”：.local 里的 false 也必须能覆盖主文件。
type FileConfig struct {
	URL         string  `json:"url"`
	Inbox       string  `json:"inbox"`
	Roster      string  `json:"roster"`
	FilePrefix  string  `json:"file_prefix"`
	Out         string  `json:"out"`
	Diagnostics *string `json:"diagnostics"`
	DryRun      *bool   `json:"dry_run"`

	Browser BrowserConfig `json:"browser"`
	Waits   WaitsConfig   `json:"waits"`
	Pacing  PacingConfig  `json:"pacing"`
	Match   MatchConfig   `json:"match"`
}

type BrowserConfig struct {
	Bin          string   `json:"bin"`
	Headless     *bool    `json:"headless"`
	NoSandbox    *bool    `json:"no_sandbox"`
	WindowWidth  int      `json:"window_width"`
	WindowHeight int      `json:"window_height"`
	ProxyURL     string   `json:"proxy_url"`
	UserAgent    string   `json:"user_agent"`
	ExtraFlags   []string `json:"extra_flags"`
}

// WaitsConfig 的取值是 time.ParseDuration 格式，例如 "4s"、"1500ms"。
type WaitsConfig struct {
	PageLoad       string `json:"page_load"`
	Element        string `json:"element"`
	Submit         string `json:"submit"`
	Confirm        string `json:"confirm"`
	ChallengePause string `json:"challenge_pause"`
}

type PacingConfig struct {
	Enabled    *bool  `json:"enabled"`
	MinDelay   string `json:"min_delay"`
	MaxDelay   string `json:"max_delay"`
	KeyMin     string `json:"key_min"`
	KeyMax     string `json:"key_max"`
	RetryPause string `json:"retry_pause"`
}

type MatchConfig struct {
	Mode                 string  `json:"mode"`
	FuzzyThreshold       float64 `json:"fuzzy_threshold"`
	FuzzyPrefixThreshold float64 `json:"fuzzy_prefix_threshold"`
}

// EnvConfig 是可由环境变量覆盖的字段（便于在定时任务/容器里运行）。
type EnvConfig struct {
	URL        string `env:"CHECKIN_URL"`
	Inbox      string `env:"CHECKIN_INBOX"`
	Out        string `env:"CHECKIN_OUT"`
	Headless   *bool  `env:"CHECKIN_HEADLESS"`
	BrowserBin string `env:"CHECKIN_BROWSER_BIN"`
	ProxyURL   string `env:"CHECKIN_PROXY_URL"`
}

// EffectiveConfig 是合并并规范化后的最终配置（路径均为绝对路径）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取的主配置文件；没有读到任何文件时为空。
	ConfigPath string

	URL         string
	Inbox       string
	Roster      string
	FilePrefix  string
	Out         string
	Diagnostics string // 空：不留存现场
	DryRun      bool

	Browser Browser
	Waits   Waits
	Pacing  Pacing
	Match   Match
}

type Browser struct {
	Bin          string
	Headless     bool
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int
	ProxyURL     string
	UserAgent    string
	ExtraFlags   []string
}

type Waits struct {
	PageLoad       time.Duration
	Element        time.Duration
	Submit         time.Duration
	Confirm        time.Duration
	ChallengePause time.Duration
}

type Pacing struct {
	Enabled    bool
	MinDelay   time.Duration
	MaxDelay   time.Duration
	KeyMin     time.Duration
	KeyMax     time.Duration
	RetryPause time.Duration
}

type Match struct {
	Mode                 string
	FuzzyThreshold       float64
	FuzzyPrefixThreshold float64
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，再依次叠加环境变量与 CLI 参数。
//
// 发现规则（固定）：
// 1) CLI 给了 --config：该文件必须存在；同目录的 <name>.local.<ext> 可选
// 2) 否则读取 <cwd>/checkin.json 与 <cwd>/checkin.local.json（均可选）
//
// 覆盖优先级（固定）：CLI（显式指定的） > 环境变量 > .local 文件 > 主文件 > 内置默认。
// 相对路径相对于 cwd 解析。environ 为 nil 时读取进程环境变量。
func LoadEffective(cwd string, cli CLIArgs, environ map[string]string) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, DefaultFileName)
	explicit := strings.TrimSpace(cli.ConfigPath) != ""
	if explicit {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
	}

	fc, found, err := readLayered(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if explicit && !found {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}

	var ec EnvConfig
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&ec, opts); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: "environment", Err: err}
	}

	used := ""
	if found {
		used = cfgPath
	}
	return merge(cwdAbs, used, fc, ec, cli)
}

func merge(cwd, cfgPath string, fc FileConfig, ec EnvConfig, cli CLIArgs) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		p := cfgPath
		if p == "" {
			p = "<defaults>"
		}
		return &Error{Code: ErrCodeInvalid, Path: p, Err: fmt.Errorf(format, args...)}
	}

	eff := EffectiveConfig{
		ConfigPath: cfgPath,
		URL:        pick(cli.URL, ec.URL, fc.URL, DefaultURL),
		FilePrefix: pick(fc.FilePrefix, DefaultFilePrefix),
		DryRun:     boolOr(fc.DryRun, false),
	}
	if cli.DryRunSet {
		eff.DryRun = cli.DryRun
	}

	u, err := url.Parse(eff.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return EffectiveConfig{}, invalid("url 必须是 http/https 地址：%q", eff.URL)
	}

	eff.Inbox = absCleanFrom(cwd, pick(cli.Inbox, ec.Inbox, fc.Inbox, "."))
	eff.Out = absCleanFrom(cwd, pick(cli.Out, ec.Out, fc.Out, "out"))
	if r := pick(cli.Roster, fc.Roster); r != "" {
		eff.Roster = absCleanFrom(cwd, r)
	}
	switch {
	case fc.Diagnostics == nil:
		eff.Diagnostics = filepath.Join(eff.Out, "diagnostics")
	case strings.TrimSpace(*fc.Diagnostics) == "":
		eff.Diagnostics = ""
	default:
		eff.Diagnostics = absCleanFrom(cwd, *fc.Diagnostics)
	}

	// browser
	b := Browser{
		Bin:          pick(ec.BrowserBin, fc.Browser.Bin),
		Headless:     boolOr(fc.Browser.Headless, true),
		NoSandbox:    boolOr(fc.Browser.NoSandbox, true),
		WindowWidth:  intOr(fc.Browser.WindowWidth, 1920),
		WindowHeight: intOr(fc.Browser.WindowHeight, 1080),
		ProxyURL:     pick(ec.ProxyURL, fc.Browser.ProxyURL),
		UserAgent:    strings.TrimSpace(fc.Browser.UserAgent),
		ExtraFlags:   append([]string(nil), fc.Browser.ExtraFlags...),
	}
	if ec.Headless != nil {
		b.Headless = *ec.Headless
	}
	if cli.HeadlessSet {
		b.Headless = cli.Headless
	}
	if b.WindowWidth < 0 || b.WindowHeight < 0 {
		return EffectiveConfig{}, invalid("browser 窗口尺寸不能为负数")
	}
	if b.ProxyURL != "" {
		pu, err := url.Parse(b.ProxyURL)
		if err != nil || pu.Scheme == "" || pu.Host == "" {
			return EffectiveConfig{}, invalid("browser.proxy_url 无效：%q", b.ProxyURL)
		}
	}
	eff.Browser = b

	// waits / pacing
	var errs []error
	dur := func(name, v string, def time.Duration) time.Duration {
		d, err := parseDuration(v, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s：%w", name, err))
		}
		return d
	}
	eff.Waits = Waits{
		PageLoad:       dur("waits.page_load", fc.Waits.PageLoad, 15*time.Second),
		Element:        dur("waits.element", fc.Waits.Element, 4*time.Second),
		Submit:         dur("waits.submit", fc.Waits.Submit, 15*time.Second),
		Confirm:        dur("waits.confirm", fc.Waits.Confirm, 4*time.Second),
		ChallengePause: dur("waits.challenge_pause", fc.Waits.ChallengePause, 10*time.Second),
	}
	eff.Pacing = Pacing{
		Enabled:    boolOr(fc.Pacing.Enabled, true),
		MinDelay:   dur("pacing.min_delay", fc.Pacing.MinDelay, 500*time.Millisecond),
		MaxDelay:   dur("pacing.max_delay", fc.Pacing.MaxDelay, 2*time.Second),
		KeyMin:     dur("pacing.key_min", fc.Pacing.KeyMin, 50*time.Millisecond),
		KeyMax:     dur("pacing.key_max", fc.Pacing.KeyMax, 200*time.Millisecond),
		RetryPause: dur("pacing.retry_pause", fc.Pacing.RetryPause, 2*time.Second),
	}
	if len(errs) > 0 {
		return EffectiveConfig{}, invalid("%w", errors.Join(errs...))
	}
	if eff.Pacing.MaxDelay < eff.Pacing.MinDelay {
		return EffectiveConfig{}, invalid("pacing.max_delay 不能小于 pacing.min_delay")
	}
	if eff.Pacing.KeyMax < eff.Pacing.KeyMin {
		return EffectiveConfig{}, invalid("pacing.key_max 不能小于 pacing.key_min")
	}

	// match
	eff.Match = Match{
		Mode:                 strings.ToLower(pick(fc.Match.Mode, MatchSubstring)),
		FuzzyThreshold:       fc.Match.FuzzyThreshold,
		FuzzyPrefixThreshold: fc.Match.FuzzyPrefixThreshold,
	}
	switch eff.Match.Mode {
	case MatchSubstring, MatchFuzzy:
	default:
		return EffectiveConfig{}, invalid("match.mode 只能是 substring 或 fuzzy，实际是 %q", eff.Match.Mode)
	}
	if eff.Match.FuzzyThreshold == 0 {
		eff.Match.FuzzyThreshold = 0.92
	}
	if eff.Match.FuzzyThreshold <= 0 || eff.Match.FuzzyThreshold > 1 {
		return EffectiveConfig{}, invalid("match.fuzzy_threshold 必须在 (0,1] 内：%v", eff.Match.FuzzyThreshold)
	}
	if eff.Match.FuzzyPrefixThreshold == 0 {
		eff.Match.FuzzyPrefixThreshold = 0.90
	}
	if eff.Match.FuzzyPrefixThreshold <= 0 || eff.Match.FuzzyPrefixThreshold > 1 {
		return EffectiveConfig{}, invalid("match.fuzzy_prefix_threshold 必须在 (0,1] 内：%v", eff.Match.FuzzyPrefixThreshold)
	}

	return eff, nil
}

// readLayered 读取 path 与同目录的 <name>.local.<ext>，后者覆盖前者。
// found 表示两者至少有一个存在。
func readLayered(path string) (fc FileConfig, found bool, err error) {
	base, exists, err := readFileConfig(path)
	if err != nil {
		return FileConfig{}, false, err
	}
	localPath := LocalPath(path)
	local, localExists, err := readFileConfig(localPath)
	if err != nil {
		return FileConfig{}, false, fmt.Errorf("%s：%w", localPath, err)
	}
	if localExists {
		if err := mergo.Merge(&base, local, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return FileConfig{}, false, fmt.Errorf("合并 %s 失败：%w", localPath, err)
		}
	}
	return base, exists || localExists, nil
}

// LocalPath 返回 path 对应的本地覆盖文件路径（checkin.json -> checkin.local.json）。
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// readFileConfig 读取并解析 JSON5 配置文件。不存在不算错误。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return FileConfig{}, true, nil
	}
	if err := json5.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("不能为负数：%q", v)
	}
	return d, nil
}

// pick 返回第一个非空白的值（已 TrimSpace）。
func pick(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
