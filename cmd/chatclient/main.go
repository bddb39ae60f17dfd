// chatclient is the PingSpace terminal chat client. It lists the rooms the
// signed-in user can join and runs a live session for the selected room.
//
// The access token comes from PINGSPACE_TOKEN or --token. Logs go to the
// --log-output file so they do not disturb the screen.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Tyrowin/pingspace/internal/api"
	"github.com/Tyrowin/pingspace/internal/channel"
	"github.com/Tyrowin/pingspace/internal/config"
	"github.com/Tyrowin/pingspace/internal/directory"
	"github.com/Tyrowin/pingspace/internal/history"
	"github.com/Tyrowin/pingspace/internal/identity"
	"github.com/Tyrowin/pingspace/internal/logging"
	"github.com/Tyrowin/pingspace/internal/session"
	"github.com/Tyrowin/pingspace/internal/tui"
)

const (
	requestTimeout  = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		envFile   string
		apiURL    string
		token     string
		room      string
		logOutput string
		logLevel  string
	)

	flagSet := pflag.NewFlagSet("chatclient", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load environment variables from this file (default: ./.env if present)")
	flagSet.StringVar(&apiURL, "api-url", "", "chat service URL, overrides PINGSPACE_API_URL")
	flagSet.StringVar(&token, "token", "", "access token, overrides PINGSPACE_TOKEN")
	flagSet.StringVar(&room, "room", "", "room ID or name to join on start")
	flagSet.StringVar(&logOutput, "log-output", "", "append log records to this file")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error; overrides LOG_LEVEL")

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
	if apiURL != "" {
		environ = append(environ, "PINGSPACE_API_URL="+apiURL)
	}
	if token != "" {
		environ = append(environ, "PINGSPACE_TOKEN="+token)
	}
	if logLevel != "" {
		environ = append(environ, "LOG_LEVEL="+logLevel)
	}
	cfg, err := config.LoadClient(environ)
	if err != nil {
		return err
	}
	if _, ok := identity.Resolve(cfg.Token); !ok {
		return errors.New("no usable access token: set PINGSPACE_TOKEN or pass --token")
	}

	var logSink io.Writer = io.Discard
	if logOutput != "" {
		file, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("cannot open log file %s: %w", logOutput, err)
		}
		defer file.Close()
		logSink = file
	}
	logger, err := logging.New(logSink, cfg.LogLevel)
	if err != nil {
		return err
	}

	apiClient, err := api.NewClient(cfg.APIURL, &http.Client{Timeout: requestTimeout})
	if err != nil {
		return err
	}
	dialer, err := channel.NewDialer(channel.DialerConfig{
		BaseURL:        cfg.WSURL,
		Origin:         cfg.Origin,
		MaxMessageSize: cfg.MaxMessageSize,
		PingInterval:   cfg.PingInterval,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	credentials := identity.NewStore(cfg.Token)
	controller, err := session.New(session.Config{
		History:     history.NewClient(apiClient),
		Channels:    dialer,
		Credentials: credentials,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go controller.Run(ctx)
	defer func() {
		if err := controller.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("Session shutdown incomplete", "error", err)
		}
	}()

	logger.Info("Starting PingSpace client", "api_url", cfg.APIURL)
	return tui.Run(ctx, tui.Config{
		Session:     controller,
		Composer:    controller.NewComposer(),
		Directory:   directory.NewClient(apiClient),
		Credentials: credentials,
		InitialRoom: room,
	})
}
