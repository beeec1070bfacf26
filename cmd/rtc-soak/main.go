package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"net"
	"os"
	"os/signal"
	"rtc-soak/applog"
	"rtc-soak/config"
	"rtc-soak/observer"
	"rtc-soak/run"
	"rtc-soak/session"
	"rtc-soak/tokens"
	"rtc-soak/util"
	"syscall"
	"time"
)

const feedShutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Print(config.Usage())
		return
	}
	if err != nil {
		fmt.Printf("Failed to parse command line arguments: %v\n", err)
		os.Exit(2)
	}

	err = applog.Initialize(uuid.NewString(), cfg.LogLevel, cfg.LogPath, cfg.LogCompress)
	if err != nil {
		fmt.Printf("Failed to initialize app logger: %v\n", err)
	}

	defer applog.Shutdown()
	defer util.WrapAppContextCancelExitMessage(ctx, "Soak test")

	if err = cfg.Validate(); err != nil {
		applog.Error("Failed to validate configuration", zap.Error(err))
		return
	}

	applog.LogStartupInfo(cfg)

	var creds session.CredentialSource = tokens.Static{AppID: cfg.AppId}
	if cfg.TokenServer != "" {
		client := tokens.NewClient(cfg.AppId, cfg.TokenServer, cfg.TokenServerKey)
		defer func() { _ = client.Close() }()
		creds = client
	}

	hub := session.NewHub(session.HubOptions{
		Latency:     cfg.LoopbackLatency,
		FailureRate: cfg.LoopbackFailureRate,
	})
	orchestrator := run.NewOrchestrator(cfg, hub, creds)

	if cfg.FeedListen != "" {
		listener, err := net.Listen("tcp", cfg.FeedListen)
		if err != nil {
			applog.Error("Failed to listen for the visibility feed", zap.String("address", cfg.FeedListen), zap.Error(err))
			return
		}
		applog.Info("Visibility feed listening", zap.Stringer("address", listener.Addr()))

		feedCtx, stopFeed := context.WithCancel(ctx)
		feedDone := make(chan struct{})
		go func() {
			defer close(feedDone)
			feed := observer.NewWSFeed(orchestrator.OnVisibilityChanged)
			if err := util.ServeWithContext(feedCtx, listener, feed, feedShutdownTimeout); err != nil {
				applog.Warn("Visibility feed stopped", zap.Error(err))
			}
		}()
		defer func() {
			stopFeed()
			<-feedDone
		}()
	}

	if err = orchestrator.Run(ctx); err != nil {
		applog.Error("Test run failed", zap.Error(err))
	}
}
