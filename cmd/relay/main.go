// Command relay runs the Nexzi signaling server.
//
// Every frame a client sends is forwarded to every connected client. Run
// several relays behind a load balancer with --redis to share one
// backplane.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/nexzi/internal/config"
	"github.com/1ureka/nexzi/internal/relay"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	flags := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	config.AddFlags(flags)
	flags.BoolP("help", "h", false, "show help")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flags.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: relay [--listen addr] [--redis addr] [--allowed-origins list]\n\n%s", flags.FlagUsages())
		return nil
	}

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return err
	}
	if cfg.Debug {
		util.EnableDebug()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	pterm.Info.Println(fmt.Sprintf("Nexzi relay — v%s", version))

	opts := relay.Options{AllowedOrigins: cfg.AllowedOrigins}
	if cfg.RedisAddr != "" {
		backplane, err := signaling.DialRedis(ctx, cfg.Redis())
		if err != nil {
			return err
		}
		defer backplane.Close()
		opts.Backplane = backplane
		util.LogInfo("using Redis backplane at %s (topic %s)", cfg.RedisAddr, cfg.RedisTopic)
	}

	srv := relay.New(opts)
	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return err
	}
	util.LogInfo("relay stopped")
	return nil
}
