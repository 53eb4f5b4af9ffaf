package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/app"
	"github.com/ew384/social-auto-upload-sub000/internal/config"
)

var (
	configFile      = flag.String("config", "", "TOML 配置文件路径（可选）")
	shutdownTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "退出时等待任务结束的最长时间")
)

func main() {
	flag.Parse()

	if err := config.Init(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(config.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		_ = a.Shutdown(context.Background())
		os.Exit(1)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "退出时出错: %v\n", err)
		os.Exit(1)
	}
}
