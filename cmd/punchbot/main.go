package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"punchbot/internal/app"
	"punchbot/pkg/logx"
	"punchbot/pkg/sdnotify"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		log := logx.NewConsole("error")
		log.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}

	a.Start(ctx)
	sdnotify.Ready()
	sdnotify.Watchdog(ctx)

	<-ctx.Done()

	sdnotify.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	a.Stop(stopCtx)
}
