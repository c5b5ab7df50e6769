package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version 由构建时 -ldflags "-X main.version=..." 注入。
var version = "dev"

// 退出码：0 全部签到（或无事可做），1 有失败或致命错误，2 用法错误。
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError 携带退出码。err 为 nil 表示信息已经输出过，只需退出。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fail(err error) error { return &exitError{code: exitFailure, err: err} }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], &cli{stdout: os.Stdout, stderr: os.Stderr})
	stop()
	os.Exit(code)
}

// cli 持有一次进程调用的输出端与共享状态。
type cli struct {
	stdout io.Writer
	stderr io.Writer

	verbose bool
	// log 非空时不再构造（测试注入 zaptest）。
	log *zap.Logger
}

func execute(ctx context.Context, args []string, c *cli) int {
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	if c.log != nil {
		_ = c.log.Sync()
	}
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(c.stderr, "错误：%v\n", ee.err)
		}
		return ee.code
	}
	// cobra 自己的错误（未知命令/参数）都是用法错误。
	fmt.Fprintf(c.stderr, "参数错误：%v\n\n", err)
	_ = root.Usage()
	return exitUsage
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "checkin",
		Short: "按名单在签到表单上无人值守地完成签到",
		Long: `checkin 读取导出的名单（CSV），用浏览器逐个家庭在签到表单上完成签到，
签到失败的记录写入 failed_entries_*.csv，运行报告写入 report.json。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.log != nil {
				return nil
			}
			log, err := newLogger(c.verbose, isTTY(c.stderr))
			if err != nil {
				return fail(fmt.Errorf("初始化日志失败：%w", err))
			}
			c.log = log
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "输出 debug 级别日志")

	root.AddCommand(c.runCmd(), c.probeCmd(), c.versionCmd())
	return root
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(c.stdout, "checkin %s\n", version)
			return nil
		},
	}
}
