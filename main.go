package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avatar-hub/avatar-hub/internal/avatar"
	"github.com/avatar-hub/avatar-hub/internal/cache"
	"github.com/avatar-hub/avatar-hub/internal/config"
	"github.com/avatar-hub/avatar-hub/internal/logging"
	"github.com/avatar-hub/avatar-hub/internal/proxy"
	"github.com/avatar-hub/avatar-hub/internal/scheduler"
	"github.com/avatar-hub/avatar-hub/internal/server"
	"github.com/avatar-hub/avatar-hub/internal/server/routes"
	"github.com/avatar-hub/avatar-hub/internal/upstream"
	"github.com/avatar-hub/avatar-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

// configEnvVar 指定配置文件路径，优先级低于 --config。
const configEnvVar = "AVATAR_HUB_CONFIG"

const shutdownTimeout = 10 * time.Second

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 交给 cobra 解析参数并执行 run，返回进程退出码。
func execute(args []string) int {
	code := 0
	cmd := newRootCommand(func(opts cliOptions) {
		code = run(opts)
	})
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return 2
	}
	return code
}

func newRootCommand(runFn func(cliOptions)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "avatar-hub",
		Short: "Serve a cached Discord avatar over HTTP",
		Long: `avatar-hub fetches one Discord user's avatar, caches it, and serves it on GET /.

The upstream API is only contacted when the cached copy is older than CacheTTL.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := optionsFromFlags(cmd)
			if err != nil {
				return err
			}
			runFn(opts)
			return nil
		},
	}

	cmd.Flags().String("config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnvVar+" 覆盖）")
	cmd.Flags().Bool("check-config", false, "仅校验配置后退出")
	cmd.Flags().Bool("version", false, "显示版本信息")
	return cmd
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	cmd := newRootCommand(func(cliOptions) {})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.ParseFlags(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if extra := cmd.Flags().Args(); len(extra) > 0 {
		return cliOptions{}, fmt.Errorf("不支持的位置参数: %v", extra)
	}
	return optionsFromFlags(cmd)
}

func optionsFromFlags(cmd *cobra.Command) (cliOptions, error) {
	flags := cmd.Flags()
	configFlag, err := flags.GetString("config")
	if err != nil {
		return cliOptions{}, err
	}
	checkOnly, err := flags.GetBool("check-config")
	if err != nil {
		return cliOptions{}, err
	}
	showVer, err := flags.GetBool("version")
	if err != nil {
		return cliOptions{}, err
	}

	return cliOptions{
		configPath:  resolveConfigPath(configFlag),
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// resolveConfigPath 按 --config > 环境变量 > ./config.toml（存在时）的顺序选择配置文件；
// 都没有时返回空串，仅使用默认值与环境变量。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnvVar); env != "" {
		return env
	}
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}
	return ""
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache"] = cfg.Cache.CacheMode()
		fields["filetype"] = cfg.Avatar.Filetype
		fields["image_size"] = cfg.Avatar.ImageSize
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → 缓存后端 → 上游客户端 → 编排服务 → 后台预热 → Fiber server。
	store, err := cache.Open(ctx, cfg.Cache, cfg.Avatar.Filetype)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer store.Close()

	service, slot := newAvatarService(cfg, store, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache"] = cfg.Cache.CacheMode()
	fields["cache_ttl"] = cfg.Cache.CacheTTL.Seconds()
	fields["filetype"] = cfg.Avatar.Filetype
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	interval := cfg.Global.PrewarmInterval.DurationValue()
	if interval > 0 && !cfg.Cache.CacheEnabled {
		logger.WithField("action", "scheduler").Warn("缓存已关闭，忽略 PrewarmInterval")
	}
	if interval > 0 && cfg.Cache.CacheEnabled {
		jobs := scheduler.New(logger)
		if err := jobs.Every(interval, scheduler.NewPrewarmJob(service)); err != nil {
			fmt.Fprintf(stdErr, "注册预热任务失败: %v\n", err)
			return 1
		}
		jobs.Start()
		defer jobs.Stop()
	}

	if err := startHTTPServer(ctx, cfg, proxy.NewHandler(service, logger), slot, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// newAvatarService 组装缓存槽、上游客户端与编排服务。
func newAvatarService(cfg *config.Config, store cache.Store, logger *logrus.Logger) (*proxy.Service, *cache.Slot) {
	slot := cache.NewSlot(store, cfg.Cache.CacheTTL.DurationValue(), cfg.Cache.CacheEnabled)
	client := upstream.New(server.NewUpstreamClient(cfg), upstream.Options{
		UserEndpoint:  cfg.Avatar.UserEndpoint(),
		AvatarBaseURL: cfg.Avatar.AvatarBaseURL(),
		Authorization: cfg.Avatar.AuthorizationHeader,
		UserAgent:     cfg.Avatar.UserAgent,
		MinInterval:   cfg.Global.UpstreamMinInterval.DurationValue(),
		WaitTimeout:   cfg.Global.UpstreamTimeout.DurationValue(),
	}, logger)
	return proxy.NewService(slot, client, formatOptions(cfg.Avatar), logger), slot
}

func formatOptions(cfg config.AvatarConfig) avatar.FormatOptions {
	return avatar.FormatOptions{
		Filetype:           cfg.Filetype,
		FallbackFiletype:   cfg.FallbackFiletype,
		ReturnWebpAnimated: cfg.ReturnWebpAnimated,
		ImageSize:          cfg.ImageSize,
	}
}

// buildApp 构建挂载头像路由与诊断接口的 Fiber 应用。
func buildApp(cfg *config.Config, handler server.AvatarHandler, slot *cache.Slot, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Avatar: handler,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticRoutes(app, routes.Diagnostics{
		Config:         cfg,
		Slot:           slot,
		MetricsEnabled: cfg.Global.MetricsEnabled,
	})
	return app, nil
}

// startHTTPServer 阻塞直到 ctx 结束或监听失败；ctx 结束时优雅关闭。
func startHTTPServer(ctx context.Context, cfg *config.Config, handler server.AvatarHandler, slot *cache.Slot, logger *logrus.Logger) error {
	app, err := buildApp(cfg, handler, slot, logger)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Global.BindAddress, strconv.Itoa(cfg.Global.ListenPort))
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   addr,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，开始关闭")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
