package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

// noEnv 让测试不受进程环境变量影响。
var noEnv = map[string]string{}

func TestLoadEffective_DefaultsWithoutFile(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigPath != "" {
		t.Fatalf("没有配置文件时 ConfigPath 应为空：%q", eff.ConfigPath)
	}
	if eff.URL != DefaultURL || eff.FilePrefix != "export_" {
		t.Fatalf("默认值不符合预期：%+v", eff)
	}
	if eff.Inbox != cwd || eff.Out != filepath.Join(cwd, "out") || eff.Diagnostics != filepath.Join(cwd, "out", "diagnostics") {
		t.Fatalf("默认路径不符合预期：inbox=%q out=%q diag=%q", eff.Inbox, eff.Out, eff.Diagnostics)
	}
	if !eff.Browser.Headless || !eff.Browser.NoSandbox || eff.Browser.WindowWidth != 1920 || eff.Browser.WindowHeight != 1080 {
		t.Fatalf("浏览器默认值不符合预期：%+v", eff.Browser)
	}
	want := Waits{PageLoad: 15 * time.Second, Element: 4 * time.Second, Submit: 15 * time.Second, Confirm: 4 * time.Second, ChallengePause: 10 * time.Second}
	if eff.Waits != want {
		t.Fatalf("等待默认值不符合预期：%+v", eff.Waits)
	}
	if !eff.Pacing.Enabled || eff.Pacing.RetryPause != 2*time.Second {
		t.Fatalf("节奏默认值不符合预期：%+v", eff.Pacing)
	}
	if eff.Match.Mode != MatchSubstring || eff.Match.FuzzyThreshold != 0.92 || eff.Match.FuzzyPrefixThreshold != 0.90 {
		t.Fatalf("匹配默认值不符合预期：%+v", eff.Match)
	}
}

func TestLoadEffective_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{ConfigPath: "missing.json"}, noEnv)
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_JSON5AndLocalOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "checkin.json"), []byte(`{
		// 注释与尾逗号都允许
		url: "https://example.org/checkin?cong=A",
		inbox: "inbox",
		diagnostics: "",
		browser: { headless: true, window_width: 1280, },
		waits: { element: "6s" },
		pacing: { enabled: true },
	}`))
	writeFile(t, filepath.Join(cwd, "checkin.local.json"), []byte(`{
		browser: { headless: false },
		pacing: { enabled: false },
	}`))

	eff, err := LoadEffective(cwd, CLIArgs{}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigPath != filepath.Join(cwd, "checkin.json") {
		t.Fatalf("ConfigPath 不符合预期：%q", eff.ConfigPath)
	}
	if eff.URL != "https://example.org/checkin?cong=A" || eff.Inbox != filepath.Join(cwd, "inbox") {
		t.Fatalf("主文件字段未生效：%+v", eff)
	}
	if eff.Browser.Headless || eff.Pacing.Enabled {
		t.Fatalf(".local 中的 false 应覆盖主文件的 true：%+v %+v", eff.Browser, eff.Pacing)
	}
	if eff.Browser.WindowWidth != 1280 || eff.Waits.Element != 6*time.Second {
		t.Fatalf("未被 .local 覆盖的字段应保留：%+v %+v", eff.Browser, eff.Waits)
	}
	if eff.Diagnostics != "" {
		t.Fatalf("diagnostics 显式为空应关闭现场留存：%q", eff.Diagnostics)
	}
}

func TestLoadEffective_OnlyLocalFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "checkin.local.json"), []byte(`{"out":"/tmp/x"}`))

	eff, err := LoadEffective(cwd, CLIArgs{}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Out != "/tmp/x" {
		t.Fatalf("只有 .local 文件也应生效：%q", eff.Out)
	}
}

func TestLoadEffective_Precedence(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "checkin.json"), []byte(`{"url":"https://file.example/","inbox":"file-inbox","browser":{"headless":true,"proxy_url":"http://file:1"}}`))
	environ := map[string]string{
		"CHECKIN_URL":       "https://env.example/",
		"CHECKIN_INBOX":     "env-inbox",
		"CHECKIN_HEADLESS":  "false",
		"CHECKIN_PROXY_URL": "socks5://env:1080",
	}

	// 环境变量覆盖文件。
	eff, err := LoadEffective(cwd, CLIArgs{}, environ)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.URL != "https://env.example/" || eff.Inbox != filepath.Join(cwd, "env-inbox") || eff.Browser.Headless || eff.Browser.ProxyURL != "socks5://env:1080" {
		t.Fatalf("环境变量未覆盖文件：%+v", eff)
	}

	// 显式 CLI 覆盖环境变量（包括 --headless=true 覆盖 env 的 false）。
	eff, err = LoadEffective(cwd, CLIArgs{URL: "https://cli.example/", Inbox: "cli-inbox", Headless: true, HeadlessSet: true}, environ)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.URL != "https://cli.example/" || eff.Inbox != filepath.Join(cwd, "cli-inbox") || !eff.Browser.Headless {
		t.Fatalf("CLI 未覆盖环境变量：%+v", eff)
	}
}

func TestLoadEffective_DryRunCLIOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "checkin.json"), []byte(`{"dry_run":true}`))

	eff, err := LoadEffective(cwd, CLIArgs{DryRun: false, DryRunSet: true}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.DryRun {
		t.Fatalf("--dry-run=false 应覆盖配置中的 true")
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad_json5":      `{url: }`,
		"bad_url":        `{"url":"ftp://x"}`,
		"bad_duration":   `{"waits":{"element":"soon"}}`,
		"neg_duration":   `{"waits":{"element":"-1s"}}`,
		"pacing_order":   `{"pacing":{"min_delay":"3s","max_delay":"1s"}}`,
		"bad_mode":       `{"match":{"mode":"exact"}}`,
		"bad_threshold":  `{"match":{"fuzzy_threshold":1.5}}`,
		"bad_prefix_th":  `{"match":{"fuzzy_prefix_threshold":-0.5}}`,
		"bad_proxy":      `{"browser":{"proxy_url":"127.0.0.1:8080"}}`,
		"negative_width": `{"browser":{"window_width":-1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, filepath.Join(cwd, "checkin.json"), []byte(body))
			_, err := LoadEffective(cwd, CLIArgs{}, noEnv)
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v", ErrCodeInvalid, err)
			}
		})
	}
}

func TestLoadEffective_InvalidEnv(t *testing.T) {
	_, err := LoadEffective(t.TempDir(), CLIArgs{}, map[string]string{"CHECKIN_HEADLESS": "maybe"})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v", ErrCodeInvalid, err)
	}
}

func TestLocalPath(t *testing.T) {
	if got := LocalPath("/a/checkin.json"); got != "/a/checkin.local.json" {
		t.Fatalf("LocalPath 不符合预期：%q", got)
	}
}
