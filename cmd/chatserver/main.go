// chatserver runs the PingSpace reference chat backend: the server and room
// directory, per-room history and the room WebSocket channels.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/pingspace/internal/config"
	"github.com/Tyrowin/pingspace/internal/logging"
	"github.com/Tyrowin/pingspace/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		envFile  string
		port     string
		logLevel string
		issueFor string
		members  []string
	)

	flagSet := pflag.NewFlagSet("chatserver", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load environment variables from this file (default: ./.env if present)")
	flagSet.StringVar(&port, "port", "", "listen address, overrides SERVER_PORT")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error; overrides LOG_LEVEL")
	flagSet.StringVar(&issueFor, "issue-token", "", "print an access token for this username and exit")
	flagSet.StringSliceVar(&members, "member", nil, "username that belongs to the seeded server (repeatable); overrides SERVER_MEMBERS")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
	} else if err := config.LoadDotEnv(); err != nil {
		return err
	}

	environ := os.Environ()
	if port != "" {
		environ = append(environ, "SERVER_PORT="+port)
	}
	if logLevel != "" {
		environ = append(environ, "LOG_LEVEL="+logLevel)
	}
	if len(members) > 0 {
		environ = append(environ, "SERVER_MEMBERS="+strings.Join(members, ","))
	}
	cfg, err := config.LoadServer(environ)
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	store := server.NewStore()
	seeded := store.SeedDefaults(cfg.Members...)

	srv, err := server.New(server.Config{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: server.RateLimitConfig{
			Burst:          cfg.RateLimitBurst,
			RefillInterval: cfg.RateLimitRefill,
		},
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
	}, store, logger)
	if err != nil {
		return err
	}

	if issueFor != "" {
		token, err := srv.Authenticator().IssueToken(uuid.NewString(), issueFor)
		if err != nil {
			return err
		}
		fmt.Println(token)
		if !store.IsMember(seeded.ID, issueFor) {
			fmt.Fprintf(os.Stderr, "note: %s is not in SERVER_MEMBERS; add --member %s when starting the server\n", issueFor, issueFor)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Members) == 0 {
		logger.Warn("No members configured; users must join the server before its rooms are visible",
			"server_id", seeded.ID)
	}
	logger.Info("Starting PingSpace server", "server_id", seeded.ID, "server", seeded.Name, "members", len(cfg.Members))
	return srv.Run(ctx, shutdownTimeout)
}
