package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	httpadapter "outreach-service/ddd/adapter/http"
	"outreach-service/internal/resource"
	"outreach-service/pkg/config"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/manager"
	"outreach-service/pkg/registry"
	"outreach-service/pkg/task"

	// 导入组件包以触发init函数
	_ "outreach-service/ddd/adapter/component"
	_ "outreach-service/ddd/infrastructure/worker"
)

func Run() {
	// 先使用标准输出确保能看到日志
	fmt.Println("[STARTUP] Starting outreach service...")

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("[ERROR] Failed to load config (%s): %v\n", cfgPath, err)
		os.Exit(1)
	}
	// 设置全局配置（必须在资源管理器初始化之前）
	config.SetGlobalConfig(cfg)
	fmt.Printf("[STARTUP] Config file loaded: %s\n", cfgPath)

	logService := logger.NewLogger(cfg)
	logger.SetGlobalLogger(logService)
	logger.Debug("Logger initialized", map[string]interface{}{
		"level":  cfg.Log.Level,
		"format": cfg.Log.Format,
		"output": cfg.Log.Output,
	})

	logger.Infof("Outreach service starting version=%s mode=%s", "1.0.0", cfg.Server.Mode)

	checkBinaries(cfg)

	if !cfg.Kafka.Enabled {
		manager.Disable("kafka")
		manager.Disable("jobSubmissionConsumer")
	}

	// 资源管理器初始化
	logger.Infof("Initializing resource manager...")
	manager.MustInitResources()
	defer manager.CloseResources()
	logger.Infof("Resource manager initialized")

	db := resource.DefaultMySqlResource().MainDB()
	redisRes := resource.DefaultRedisResource()
	minioRes := resource.DefaultMinioResource()

	logger.Infof("Assembling pipeline...")
	asm, err := assemble(cfg, infra{
		db:       db,
		redis:    redisRes.Client(),
		dial:     redisRes.Dial,
		storage:  minioRes.ArtifactStorage(),
		notifier: newNotifier(cfg),
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to assemble pipeline error=%v", err))
	}

	// 初始化所有组件
	logger.Infof("Initializing components...")
	manager.MustInitComponents(asm.dependencies(cfg, db))
	logger.Infof("All components initialized")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if err := task.StartAll(rootCtx); err != nil {
		logger.Fatal(fmt.Sprintf("Failed to start background tasks error=%v", err))
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	engine := gin.New()
	router := httpadapter.NewRouter(asm.jobApp, cfg.JWT).
		WithAccountApp(asm.accountApp).
		WithMetrics(cfg.Observability.MetricsEnabled).
		WithHealthChecks(map[string]httpadapter.HealthCheck{
			"mysql": resource.DefaultMySqlResource().Ping,
			"redis": redisRes.Ping,
		}).
		WithHealthDetails(map[string]httpadapter.HealthDetail{
			"queue": asm.queueHealth,
		})
	router.SetupMiddleware(engine)
	router.SetupRoutes(engine)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(fmt.Sprintf("Failed to start HTTP server error=%v", err))
		}
	}()
	logger.Infof("HTTP server started addr=%s health_url=%s", addr, fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port))

	reg := registerService(cfg)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Received shutdown signal, shutting down server...")

	if reg != nil {
		if err := reg.Deregister(); err != nil {
			logger.Warnf("Service deregister failed error=%v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to close error=%v", err)
	}

	// 先停后台任务（工作池按宽限期排空），再关闭组件
	task.StopAll()
	manager.Shutdown()
	logger.Infof("Components closed")

	logger.Infof("Server exited safely")
	if logService != nil {
		logService.Close()
	}
	fmt.Println("[SHUTDOWN] Outreach service exited safely")
}

// checkBinaries fails fast when ffmpeg is missing; a missing browser only warns since jobs fail per row.
func checkBinaries(cfg *config.Config) {
	if _, err := exec.LookPath(cfg.FFmpeg.BinaryPath); err != nil {
		logger.Fatal(fmt.Sprintf("FFmpeg binary not found, please install or set ffmpeg.binary_path binary=%s error=%s", cfg.FFmpeg.BinaryPath, err.Error()))
	}
	if strings.Contains(strings.ToLower(cfg.FFmpeg.VideoCodec), "nvenc") {
		cmd := exec.Command(cfg.FFmpeg.BinaryPath, "-hide_banner", "-encoders")
		if out, err := cmd.Output(); err == nil && !strings.Contains(strings.ToLower(string(out)), "nvenc") {
			logger.Warnf("NVENC encoder not detected in FFmpeg, codec=%s", cfg.FFmpeg.VideoCodec)
		}
	}
	if !browserAvailable(cfg.Recorder.BrowserPath) {
		logger.Warnf("Chrome not found, every recording will fail browser_path=%s", cfg.Recorder.BrowserPath)
	}
}

// browserAvailable mirrors the names chromedp searches when no path is configured.
func browserAvailable(configured string) bool {
	candidates := []string{configured}
	if configured == "" {
		candidates = []string{"headless_shell", "headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome"}
	}
	for _, name := range candidates {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func registerService(cfg *config.Config) *registry.ServiceRegistry {
	sr := cfg.ServiceRegistry
	if !sr.Enabled || len(sr.Endpoints) == 0 {
		return nil
	}
	host := sr.RegisterHost
	if host == "" {
		host = cfg.Server.Host
	}
	if host == "" || host == "0.0.0.0" {
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}
	reg, err := registry.NewServiceRegistry(sr, net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)))
	if err != nil {
		logger.Warnf("Service registry unavailable error=%v", err)
		return nil
	}
	if err := reg.Register(); err != nil {
		logger.Warnf("Service registration failed error=%v", err)
		_ = reg.Deregister()
		return nil
	}
	return reg
}

// resolveConfigPath 根据环境选择配置文件，支持CONFIG_PATH覆盖、CONFIG_ENV区分环境
func resolveConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}

	env := strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_ENV")))
	if env == "" {
		env = "dev"
	}

	switch env {
	case "prod", "production":
		return "configs/config_prod.yaml"
	case "dev", "development":
		return "configs/config.dev.yaml"
	default:
		return fmt.Sprintf("configs/config.%s.yaml", env)
	}
}
