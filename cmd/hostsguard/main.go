package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/winspan/hostsguard/internal/hosts"
	"github.com/winspan/hostsguard/internal/storage"
	"github.com/winspan/hostsguard/internal/web"
	"github.com/winspan/hostsguard/pkg/config"
	"github.com/winspan/hostsguard/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// 初始化日志
	log, err := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		MaxSize: cfg.Logging.MaxSize,
		Prefix:  "hostsguard",
	})
	if err != nil {
		return err
	}
	defer log.Close()

	log.Info("%s %s 启动中", cfg.App.Name, cfg.App.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 目标文件路径，未配置时使用系统默认
	hostsPath := cfg.Hosts.Path
	if hostsPath == "" {
		hostsPath = hosts.DefaultHostsPath()
	}
	log.Info("目标 hosts 文件: %s", hostsPath)

	// 事件日志
	var journal *storage.Journal
	var recorder hosts.Recorder
	if cfg.Journal.Enabled {
		journal, err = storage.NewJournal(cfg.Journal.SQLiteFile, cfg.Journal.MaxEvents, cfg.Journal.RetentionDays)
		if err != nil {
			return fmt.Errorf("初始化事件日志失败: %v", err)
		}
		defer journal.Close()
		journal.StartAutoCleanup(ctx.Done(), time.Hour)
		recorder = journal
	}

	// 规则存储
	store := hosts.NewStore(cfg.Rules.File, log)
	if err := store.Load(); err != nil {
		return fmt.Errorf("加载规则失败: %v", err)
	}

	// 权限门控
	gate := hosts.NewSystemGate()
	if !gate.IsElevated() {
		log.Warn("当前程序没有管理员权限，检测到缺失时将无法修复 hosts 文件")
	}

	// 监控指标
	metrics := hosts.NewMetrics(prometheus.DefaultRegisterer)

	// 组装流水线：监控 → 对比 → 修复
	delay := time.Duration(cfg.Hosts.DelayMs) * time.Millisecond
	repairer := hosts.NewRepairer(hostsPath, delay, cfg.Hosts.MaxReadSize, store, gate, log, metrics, recorder)
	contraster := hosts.NewContraster(hostsPath, cfg.Hosts.MaxReadSize, store, repairer, log, metrics, recorder)
	monitor := hosts.NewMonitor(hostsPath, store.Path(), delay, contraster, log, metrics)

	// 解析对比诊断
	resolver := hosts.NewResolveChecker(cfg.Diagnostics.Upstream,
		time.Duration(cfg.Diagnostics.TimeoutMs)*time.Millisecond)

	// 管理接口
	r := chi.NewRouter()
	web.BindRoutes(r, web.Deps{
		Store:      store,
		Monitor:    monitor,
		Contraster: contraster,
		Repairer:   repairer,
		Resolver:   resolver,
		Journal:    journal,
		Gate:       gate,
		Log:        log,
		AdminToken: cfg.Web.AdminToken,
	})
	if cfg.Monitoring.Enabled {
		r.Handle(cfg.Monitoring.Path, promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 启动监控
	monitor.Start()

	go func() {
		log.Info("管理接口监听: %s", cfg.Web.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("管理接口异常退出: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("收到停止信号，正在退出...")

	// 先停监控，再关管理接口
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("管理接口关闭失败: %v", err)
	}

	log.Info("程序已退出")
	return nil
}
