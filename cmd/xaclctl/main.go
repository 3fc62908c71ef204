// xaclctl 是出站访问控制策略的命令行工具，用于离线校验策略与排查 SSRF 拦截。
//
// 用法:
//
//	xaclctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-p, --policy      策略文件（.yaml/.yml/.json），缺省使用默认策略
//	    --policy-key  策略在配置文档中的节点，缺省为整个文档
//	    --log-level   日志级别 (debug/info/warn/error，默认: error)
//	    --log-format  日志格式 (text/json，默认: text)
//
// 命令:
//
//	check         判定 URL 或 主机/端口/IP 组合
//	resolve       解析主机名并逐个判定解析结果
//	categories    列出地址分类，或对给定 IP 分类
//	fetch         经守卫客户端发起 HTTP 请求
//	watch         监视策略文件并在变更后重新判定
//	help          显示帮助信息
//
// 退出码:
//
//	0: 放行或执行成功
//	1: 被策略拒绝或执行失败
//	2: 参数错误（无效 URL、缺少参数、未知命令等）
//
// 示例:
//
//	xaclctl check --url http://169.254.169.254/latest/meta-data/
//	xaclctl check --host api.example.com --port 443 --ip 10.0.0.1
//	xaclctl -p acl.yaml resolve example.com localtest.me
//	xaclctl resolve --dns 9.9.9.9 example.com
//	xaclctl categories 100.64.0.1 64:ff9b::a00:1
//	xaclctl fetch https://example.com/
//	xaclctl -p acl.yaml watch -u http://10.0.0.1/ -u https://example.com:8443/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD) -X main.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xaclctl",
		Usage:   "出站访问控制策略命令行工具",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "policy",
				Aliases: []string{"p"},
				Usage:   "策略文件路径（.yaml/.yml/.json）",
				Sources: cli.EnvVars("XACL_POLICY"),
			},
			&cli.StringFlag{
				Name:  "policy-key",
				Usage: "策略在配置文档中的节点，空表示整个文档",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (debug/info/warn/error)",
				Value: "error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "日志格式 (text/json)",
				Value: "text",
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，由 run() 统一映射退出码。
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(cmd.Root().ErrWriter, err)
			}
		},
		Description: `xaclctl 加载与服务相同的策略文件，在不发起真实请求的情况下
回答"这个地址会不会被拦截、为什么被拦截"。

  check       判定 URL 或 主机/端口/IP 组合
  resolve     解析主机名并展示每个地址的判定结果
  categories  列出屏蔽分类覆盖的网段，或对 IP 分类
  fetch       经守卫 HTTP 客户端请求 URL
  watch       监视策略文件，每次变更后重新判定 URL`,
	}
}

func run() int {
	return runApp(context.Background(), createApp(), os.Args)
}

// runApp 执行应用并把错误映射为退出码。
func runApp(ctx context.Context, app *cli.Command, args []string) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := setupSignalHandler(cancel)
	defer stop()

	if err := app.Run(ctx, args); err != nil {
		return exitCode(app, err)
	}
	return 0
}

func exitCode(app *cli.Command, err error) int {
	errw := app.ErrWriter
	if errw == nil {
		errw = os.Stderr
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(errw, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		// ExitErrHandler 或 flag 解析器已输出错误详情
		return 2
	}
	fmt.Fprintf(errw, "错误: %v\n", err)
	return 1
}

// exitError 命令已完成输出，只需设置退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// cliUsageMarkers urfave/cli 参数错误消息的特征片段。
var cliUsageMarkers = []string{
	"flag provided but not defined",
	"flag needs an argument",
	"invalid value",
	"Required flag",
	"No help topic for",
	"Incorrect Usage",
}

// isCLIUsageError 识别 urfave/cli 自身产生的参数错误（未知 flag、未知命令、缺少必填项）。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range cliUsageMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// setupSignalHandler 第一次信号取消 ctx，第二次信号强制退出（退出码 130 = 128 + SIGINT）。
// 返回的函数解除信号订阅。
func setupSignalHandler(cancel context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			signal.Stop(sigCh)
			os.Exit(130)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
