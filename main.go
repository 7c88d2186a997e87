package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mcpchat/pkg/agent"
	"mcpchat/pkg/api"
	"mcpchat/pkg/channels"
	_ "mcpchat/pkg/channels/autoload" // 自動註冊 Channels
	"mcpchat/pkg/config"
	"mcpchat/pkg/gateway"
	"mcpchat/pkg/handler"
	"mcpchat/pkg/llm"
	_ "mcpchat/pkg/llm/autoload" // 自動註冊 LLM Providers
	"mcpchat/pkg/monitor"
	"mcpchat/pkg/tools"
	"mcpchat/pkg/tools/calc"
	"mcpchat/pkg/tools/fs"
)

const (
	envFile          = ".env"
	systemConfigFile = "system.json"
)

func main() {
	// --- 0. 讀取設定檔 ---
	cfg, sys, err := config.Load(envFile, systemConfigFile)
	if err != nil {
		monitor.SetupSlog("info")
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	monitor.SetupSlog(sys.LogLevel)
	monitor.PrintBanner()

	// --- 1. LLM 設定（缺少憑證時仍啟動 UI，對話回覆錯誤訊息）---
	client := newLLMClient(cfg, sys)

	// --- 2. 工具 ---
	registry := tools.NewToolRegistry()
	files, err := fs.New(cfg.FileBasePath)
	if err != nil {
		slog.Error("File tools disabled", "path", cfg.FileBasePath, "error", err)
	} else {
		for _, t := range fs.NewTools(files) {
			registry.Register(t)
		}
	}
	calcHistory := calc.NewHistory(calc.DefaultHistorySize)
	for _, t := range calc.NewTools(calcHistory) {
		registry.Register(t)
	}
	slog.Info("Tools registered", "count", registry.Len())

	// --- 3. 對話紀錄與引擎 ---
	metrics := monitor.NewMetrics("mcpchat")
	sessions := llm.NewSessionManager(cfg.HistoryDir)

	engine := agent.NewAgentEngine(client, cfg, sys, sessions)
	engine.SetToolRegistry(registry)
	engine.SetMetrics(metrics)
	engine.AddStatsHook(func(s *api.Stats) {
		s.Calculations = calcHistory.Len()
	})
	if breaker, ok := client.(*llm.BreakerClient); ok {
		engine.AddStatsHook(func(s *api.Stats) {
			s.CircuitState = breaker.State()
		})
	}

	chatHandler := handler.NewChatHandler(engine, sessions)

	// --- 4. Gateway 初始化（使用 Builder 模式）---
	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sys).
		WithMonitor(monitor.NewCLIMonitor()).
		WithChannel(channels.Load(channels.Deps{App: cfg, System: sys, Metrics: metrics})...).
		WithAgentEngine(engine).
		WithSessions(sessions).
		WithHandler(chatHandler).
		Build()
	if err != nil {
		slog.Error("Failed to build gateway", "error", err)
		os.Exit(1)
	}

	// --- 5. system.json 熱更新 ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go config.WatchSystemConfig(ctx, systemConfigFile, func(next *config.SystemConfig) {
		engine.UpdateSystemConfig(next)
		monitor.SetLogLevel(next.LogLevel)
		slog.Info("System config reloaded", "file", systemConfigFile)
	})

	// 監聽系統信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal. Stopping services...")

	cancel()
	gw.StopAll()
	slog.Info("Bye!")
}

// newLLMClient 建立 LLM client；任何失敗都退回 UnavailableClient
func newLLMClient(cfg *config.Config, sys *config.SystemConfig) llm.LLMClient {
	if err := cfg.Validate(); err != nil {
		slog.Warn("LLM client not configured", "error", err)
		return &llm.UnavailableClient{Err: err}
	}

	client, err := llm.NewFromConfig(llm.GroupsFromConfig(cfg), sys)
	if err != nil {
		if errors.Is(err, llm.ErrNoClients) {
			slog.Warn("No LLM client could be created", "error", err)
		} else {
			slog.Error("Failed to init LLM client", "error", err)
		}
		return &llm.UnavailableClient{Err: err}
	}
	return client
}
