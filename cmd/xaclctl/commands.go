package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xacl/pkg/config/xconf"
	"github.com/omeyang/xacl/pkg/observability/xlog"
	"github.com/omeyang/xacl/pkg/security/xacl"
	"github.com/omeyang/xacl/pkg/security/xguard"
	"github.com/omeyang/xacl/pkg/util/xnet"
)

const (
	defaultResolveTimeout = 5 * time.Second
	defaultFetchTimeout   = 30 * time.Second
	defaultConcurrency    = 8
	defaultMaxBody        = 1 << 20
)

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createCheckCommand(),
		createResolveCommand(),
		createCategoriesCommand(),
		createFetchCommand(),
		createWatchCommand(),
	}
}

// withEnv 为命令动作构建执行环境，并在动作结束后关闭日志。
func withEnv(fn func(ctx context.Context, cmd *cli.Command, e *env) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		e, err := newEnv(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := e.close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(ctx, cmd, e)
	}
}

func dnsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "dns",
		Usage: "直接向该 DNS 服务器发起 UDP 查询（如 9.9.9.9 或 [2620:fe::fe]:53），缺省使用系统解析器",
	}
}

// createCheckCommand 创建 check 子命令。
func createCheckCommand() *cli.Command {
	return &cli.Command{
		Name:    "check",
		Aliases: []string{"c"},
		Usage:   "判定 URL 或 主机/端口/IP 组合",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "待判定的 URL"},
			&cli.StringFlag{Name: "host", Usage: "主机名或 IP 字面量"},
			&cli.Uint16Flag{Name: "port", Usage: "目标端口", Value: 443},
			&cli.StringFlag{Name: "ip", Usage: "主机解析出的 IP，缺省时只判定主机与端口"},
			&cli.StringFlag{Name: "method", Aliases: []string{"m"}, Usage: "HTTP 方法"},
		},
		Action: withEnv(func(_ context.Context, cmd *cli.Command, e *env) error {
			return cmdCheck(e, checkInput{
				url:    cmd.String("url"),
				host:   cmd.String("host"),
				port:   cmd.Uint16("port"),
				ip:     cmd.String("ip"),
				method: cmd.String("method"),
			})
		}),
	}
}

type checkInput struct {
	url    string
	host   string
	port   uint16
	ip     string
	method string
}

func cmdCheck(e *env, in checkInput) error {
	d, err := evaluate(e.policy, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, d)
	if d.Allowed && d.Provisional {
		fmt.Fprintln(e.out, "  尚未校验解析结果，连接前仍需逐个判定解析出的地址")
	}
	if !d.Allowed {
		return &exitError{code: 1}
	}
	return nil
}

func evaluate(p *xacl.Policy, in checkInput) (xacl.Decision, error) {
	hostMode := in.host != "" || in.ip != ""
	switch {
	case in.url != "" && hostMode:
		return xacl.Decision{}, usagef("--url 不能与 --host/--ip 同时使用")
	case in.url != "":
		if in.method == "" {
			return p.IsURLAllowed(in.url), nil
		}
		return p.IsRequestAllowed(in.method, in.url), nil
	case !hostMode:
		return xacl.Decision{}, usagef("需要 --url，或 --host/--ip")
	}

	var ip netip.Addr
	if in.ip != "" {
		addr, err := xnet.ParseAddr(in.ip)
		if err != nil {
			return xacl.Decision{}, usagef("无效的 IP %q: %v", in.ip, err)
		}
		ip = addr
	}
	host := in.host
	if host == "" {
		host = ip.String()
	}
	d := p.Evaluate(host, in.port, ip)
	if d.Allowed && in.method != "" {
		if md := p.IsMethodAllowed(in.method); !md.Allowed {
			return md, nil
		}
	}
	return d, nil
}

// createResolveCommand 创建 resolve 子命令。
func createResolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Aliases:   []string{"r"},
		Usage:     "解析主机名并逐个判定解析结果",
		ArgsUsage: "<host> [host...]",
		Flags: []cli.Flag{
			dnsFlag(),
			&cli.Uint16Flag{Name: "port", Usage: "预判定使用的端口", Value: 443},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "整体超时", Value: defaultResolveTimeout},
			&cli.IntFlag{Name: "concurrency", Usage: "并发解析的主机数", Value: defaultConcurrency},
		},
		Action: withEnv(func(ctx context.Context, cmd *cli.Command, e *env) error {
			hosts := cmd.Args().Slice()
			if len(hosts) == 0 {
				return usagef("resolve 命令需要至少一个主机名")
			}
			r, err := resolver(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()
			return cmdResolve(ctx, e, r, hosts, cmd.Uint16("port"), int(cmd.Int("concurrency")))
		}),
	}
}

// resolveResult 单个主机的解析与判定结果。
type resolveResult struct {
	host      string
	decisions []xacl.Decision
	admitted  []netip.Addr
	err       error
}

func cmdResolve(ctx context.Context, e *env, r xguard.Resolver, hosts []string, port uint16, concurrency int) error {
	if r == nil {
		r = net.DefaultResolver
	}
	g, err := e.guard()
	if err != nil {
		return err
	}

	results := make([]resolveResult, len(hosts))
	var eg errgroup.Group
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	for i, host := range hosts {
		eg.Go(func() error {
			results[i] = resolveHost(ctx, g, r, host, port)
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, res := range results {
		printResolveResult(e.out, res)
		if res.err != nil {
			failed++
		}
	}
	if failed > 0 {
		e.logger.Debug(ctx, "resolve finished with failures", xlog.Count(int64(failed)))
		return &exitError{code: 1}
	}
	return nil
}

func resolveHost(ctx context.Context, g *xguard.Guard, r xguard.Resolver, host string, port uint16) resolveResult {
	res := resolveResult{host: host}
	if err := g.PreConnect(ctx, host, port); err != nil {
		res.err = err
		return res
	}
	addrs, err := lookupHost(ctx, g.Policy(), r, host)
	if err != nil {
		res.err = err
		return res
	}
	p := g.Policy()
	for _, addr := range addrs {
		res.decisions = append(res.decisions, p.IsIPAllowed(addr))
	}
	res.admitted, res.err = g.OnResolved(ctx, host, addrs)
	return res
}

// lookupHost 按 IP 字面量、静态映射、解析器的顺序得到候选地址。
func lookupHost(ctx context.Context, p *xacl.Policy, r xguard.Resolver, host string) ([]netip.Addr, error) {
	if addr, err := xnet.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	if addrs, ok := p.StaticMapping(host); ok {
		return addrs, nil
	}
	name, err := xacl.NormalizeHost(host)
	if err != nil {
		return nil, err
	}
	addrs, err := r.LookupNetIP(ctx, "ip", name)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", name, err)
	}
	if len(addrs) == 0 {
		return nil, xguard.ErrNoAddress
	}
	return addrs, nil
}

func printResolveResult(w io.Writer, res resolveResult) {
	fmt.Fprintln(w, res.host)
	for _, d := range res.decisions {
		fmt.Fprintf(w, "  %s\n", d)
	}
	switch {
	case res.err != nil:
		fmt.Fprintf(w, "  => %v\n", res.err)
	default:
		fmt.Fprintf(w, "  => %d/%d admitted\n", len(res.admitted), len(res.decisions))
	}
}

// createCategoriesCommand 创建 categories 子命令。
func createCategoriesCommand() *cli.Command {
	return &cli.Command{
		Name:      "categories",
		Aliases:   []string{"cat"},
		Usage:     "列出地址分类，或对给定 IP 分类",
		ArgsUsage: "[ip...]",
		Action: withEnv(func(_ context.Context, cmd *cli.Command, e *env) error {
			return cmdCategories(e, cmd.Args().Slice())
		}),
	}
}

func cmdCategories(e *env, args []string) error {
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	if len(args) == 0 {
		blocked := e.policy.BlockedCategories()
		for c := xnet.Category(0); c.IsValid(); c++ {
			mark := " "
			if blocked.Has(c) {
				mark = "*"
			}
			prefixes := xnet.CategoryPrefixes(c)
			names := make([]string, len(prefixes))
			for i, p := range prefixes {
				names[i] = p.String()
			}
			fmt.Fprintf(tw, "%s %s\t%s\n", mark, c, strings.Join(names, ", "))
		}
		return tw.Flush()
	}

	addrs := make([]netip.Addr, len(args))
	for i, arg := range args {
		addr, err := xnet.ParseAddr(arg)
		if err != nil {
			return usagef("无效的 IP %q: %v", arg, err)
		}
		addrs[i] = addr
	}
	for _, addr := range addrs {
		shown := addr.String()
		if v4, ok := xnet.Embedded(addr); ok {
			shown += " (" + v4.String() + ")"
		}
		verdict := "deny"
		if e.policy.IsIPAllowed(addr).Allowed {
			verdict = "allow"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", shown, xnet.Classify(addr), verdict)
	}
	return tw.Flush()
}

// createFetchCommand 创建 fetch 子命令。
func createFetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Aliases:   []string{"f"},
		Usage:     "经守卫客户端发起 HTTP 请求",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			dnsFlag(),
			&cli.StringFlag{Name: "method", Aliases: []string{"m"}, Usage: "HTTP 方法", Value: http.MethodGet},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "请求超时", Value: defaultFetchTimeout},
			&cli.Int64Flag{Name: "max-body", Usage: "最多输出的响应体字节数", Value: defaultMaxBody},
		},
		Action: withEnv(func(ctx context.Context, cmd *cli.Command, e *env) error {
			if cmd.Args().Len() != 1 {
				return usagef("fetch 命令需要且只需要一个 URL")
			}
			r, err := resolver(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()
			return cmdFetch(ctx, e, r, cmd.String("method"), cmd.Args().First(), cmd.Int64("max-body"))
		}),
	}
}

func cmdFetch(ctx context.Context, e *env, r xguard.Resolver, method, rawURL string, maxBody int64) error {
	g, err := e.guard()
	if err != nil {
		return err
	}
	client := xguard.NewClient(g.NewDialer(xguard.WithResolver(r)))
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return usagef("无效的请求: %v", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if de, ok := xacl.AsDenied(err); ok {
			fmt.Fprintf(e.out, "blocked: %s\n", de.Decision)
			for _, rd := range de.Rejected {
				fmt.Fprintf(e.out, "  %s\n", rd)
			}
			return &exitError{code: 1}
		}
		return err
	}
	defer resp.Body.Close()

	e.logger.Info(ctx, "fetch completed",
		xlog.Method(req.Method),
		xlog.Host(req.URL.Host),
		xlog.StatusCode(resp.StatusCode),
		xlog.Duration(time.Since(start)),
	)
	fmt.Fprintf(e.out, "%s %s\n", resp.Proto, resp.Status)
	if maxBody <= 0 {
		return nil
	}
	if _, err := io.Copy(e.out, io.LimitReader(resp.Body, maxBody)); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("读取响应体: %w", err)
	}
	return nil
}

// createWatchCommand 创建 watch 子命令。
func createWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "监视策略文件，每次变更后重建策略并重新判定 --url 列表",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "url", Aliases: []string{"u"}, Usage: "每次重载后判定的 URL，可重复指定"},
			&cli.DurationFlag{Name: "debounce", Usage: "变更防抖时间", Value: xconf.DefaultDebounce},
		},
		Action: withEnv(func(ctx context.Context, cmd *cli.Command, e *env) error {
			path := cmd.String("policy")
			if path == "" {
				return usagef("watch 命令需要 --policy")
			}
			return cmdWatch(ctx, e, path, cmd.String("policy-key"), cmd.StringSlice("url"), cmd.Duration("debounce"))
		}),
	}
}

func cmdWatch(ctx context.Context, e *env, path, key string, urls []string, debounce time.Duration) error {
	cfg, err := xconf.New(path)
	if err != nil {
		return fmt.Errorf("加载策略文件: %w", err)
	}
	holder := xacl.NewHolder(e.policy)
	report := func(p *xacl.Policy) {
		for _, u := range urls {
			fmt.Fprintf(e.out, "  %s: %s\n", u, p.IsURLAllowed(u))
		}
	}

	w, err := xacl.NewXConfProvider(cfg, key).Watch(holder, func(p *xacl.Policy, err error) {
		if err != nil {
			e.logger.Warn(ctx, "policy reload failed", xlog.Path(path), xlog.Err(err))
			fmt.Fprintf(e.out, "reload failed: %v\n", err)
			return
		}
		e.logger.Info(ctx, "policy reloaded", xlog.Path(path))
		fmt.Fprintf(e.out, "reloaded (revision %d)\n", cfg.Revision())
		report(p)
	}, xconf.WithDebounce(debounce))
	if err != nil {
		return fmt.Errorf("监视策略文件: %w", err)
	}

	fmt.Fprintf(e.out, "watching %s\n", path)
	report(holder.Snapshot())
	<-ctx.Done()
	return w.Stop()
}
