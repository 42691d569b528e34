package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdptrack/internal/config"
	"cdptrack/internal/httpapi"
	"cdptrack/internal/logger"
	api "cdptrack/pkg/api"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		os.Stderr.WriteString("加载配置失败: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
	})

	svc, err := api.NewService(cfg, log)
	if err != nil {
		log.Err(err, "初始化服务失败")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		log.Err(err, "启动服务失败")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/bridge", svc.BridgeHandler())
	mux.Handle("/rpc", httpapi.NewServer(svc))

	server := &http.Server{
		Addr:              cfg.Bridge.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("监听控制端口", "listen", cfg.Bridge.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err, "控制端口监听失败")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("收到退出信号，开始关闭")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("关闭控制端口失败", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warn("关闭服务失败", "error", err)
	}
}
