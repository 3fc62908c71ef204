package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xacl/pkg/config/xconf"
	"github.com/omeyang/xacl/pkg/observability/xlog"
	"github.com/omeyang/xacl/pkg/security/xacl"
	"github.com/omeyang/xacl/pkg/security/xguard"
)

// env 命令执行环境：策略、日志与输出目标。
type env struct {
	policy *xacl.Policy
	logger xlog.LoggerWithLevel
	out    io.Writer
	close  func() error
}

// newEnv 根据全局选项构建执行环境。调用方负责 close。
func newEnv(ctx context.Context, cmd *cli.Command) (*env, error) {
	root := cmd.Root()
	logger, closeLog, err := xlog.New().
		SetOutput(root.ErrWriter).
		SetLevelString(cmd.String("log-level")).
		SetFormat(cmd.String("log-format")).
		Build()
	if err != nil {
		return nil, usagef("日志选项无效: %v", err)
	}

	policy, err := loadPolicy(cmd.String("policy"), cmd.String("policy-key"))
	if err != nil {
		return nil, errors.Join(err, closeLog())
	}
	logger.Debug(ctx, "policy loaded",
		xlog.Path(cmd.String("policy")),
		slog.String("blocked", policy.BlockedCategories().String()),
	)
	return &env{policy: policy, logger: logger, out: root.Writer, close: closeLog}, nil
}

// loadPolicy 从文件加载策略，path 为空时返回默认策略。
func loadPolicy(path, key string) (*xacl.Policy, error) {
	if path == "" {
		return xacl.DefaultPolicy(), nil
	}
	cfg, err := xconf.New(path)
	if err != nil {
		return nil, fmt.Errorf("加载策略文件: %w", err)
	}
	policy, err := xacl.LoadConfig(cfg, key)
	if err != nil {
		return nil, fmt.Errorf("构建策略: %w", err)
	}
	return policy, nil
}

// guard 构建共享本环境日志的守卫。
func (e *env) guard() (*xguard.Guard, error) {
	return xguard.New(e.policy, xguard.WithLogger(e.logger))
}

// resolver 返回 --dns 指定的 UDP 解析器，未指定时返回 nil（使用系统解析器）。
func resolver(cmd *cli.Command) (xguard.Resolver, error) {
	server := cmd.String("dns")
	if server == "" {
		return nil, nil
	}
	r, err := xguard.NewUDPResolver(server)
	if err != nil {
		return nil, usagef("无效的 DNS 服务器 %q: %v", server, err)
	}
	return r, nil
}
