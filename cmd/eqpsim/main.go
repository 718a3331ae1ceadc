package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"tc_eqpsim/internal/app"
	"tc_eqpsim/internal/shared/config"
	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "eqpsim.ini")

	// 1. 加载 .ini 进程配置
	cfg := types.DefaultConfig()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 2. 加载 topology.yaml 并校验
	sim, err := app.New(cfg, *configDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load simulator topology")
	}

	// 3. 运行，直到收到信号或全部场景完成
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sim.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Simulator failed to start")
	}
}
