package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/auth"
	"github.com/matthewbaird/desk/internal/config"
	"github.com/matthewbaird/desk/internal/devserver"
	"github.com/matthewbaird/desk/internal/event"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ServerFromEnv(os.Getenv)
	if err != nil {
		glog.Fatalf("reading configuration: %v", err)
	}

	reg, err := devserver.LoadRegistry(cfg.DoctypesPath)
	if err != nil {
		glog.Fatalf("loading doctypes: %v", err)
	}

	hub := devserver.NewHub()
	rec := event.NewRecorder(1000)
	backend := devserver.NewBackend(reg, event.Fanout{hub, rec})
	if err := devserver.Seed(backend); err != nil {
		glog.Fatalf("seeding demo data: %v", err)
	}

	var iss *auth.Issuer
	if cfg.JWTSecret != "" {
		iss, err = auth.NewIssuer(cfg.JWTSecret, 24*time.Hour)
		if err != nil {
			glog.Fatalf("creating token issuer: %v", err)
		}
	} else {
		glog.Warningf("%s not set, requests run as Administrator", config.EnvSecret)
	}

	if err := devserver.Run(ctx, devserver.Config{
		Port:    cfg.Port,
		Backend: backend,
		Hub:     hub,
		Issuer:  iss,
		Events:  rec,
	}); err != nil {
		glog.Fatalf("server error: %v", err)
	}
}
