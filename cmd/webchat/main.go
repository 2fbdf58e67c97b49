package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/navigatorvzhang/web-chatbot/chat"
	"github.com/navigatorvzhang/web-chatbot/client"
	"github.com/navigatorvzhang/web-chatbot/codec"
	"github.com/navigatorvzhang/web-chatbot/config"
	"github.com/navigatorvzhang/web-chatbot/internal/files"
	"github.com/navigatorvzhang/web-chatbot/server"
	"github.com/navigatorvzhang/web-chatbot/worker"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "webchat",
		Usage: "a chat bridge between HTTP clients and an external worker process",
		Commands: []*cli.Command{
			serveCommand(),
			chatCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"listen-addr":    "listen_addr",
	"log-level":      "log_level",
	"worker-command": "worker.command",
	"worker-arg":     "worker.args",
	"worker-script":  "worker.script",
	"worker-dir":     "worker.dir",
	"worker-timeout": "worker.timeout",
	"input-style":    "worker.input_style",
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve /init and /chat, running one worker process per request",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a config file (YAML, JSON or TOML). Values can also come from WEBCHAT_* env vars.",
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
			},
			&cli.StringFlag{
				Name:  "worker-command",
				Usage: "The worker executable, e.g. python3.",
			},
			&cli.StringSliceFlag{
				Name:  "worker-arg",
				Usage: "Arguments passed to the worker executable before the script.",
			},
			&cli.StringFlag{
				Name:  "worker-script",
				Usage: "The worker script. Relative paths are also searched for in parent directories.",
			},
			&cli.StringFlag{
				Name:  "worker-dir",
				Usage: "Working directory of the worker process.",
			},
			&cli.DurationFlag{
				Name:  "worker-timeout",
				Usage: "Kill a worker that runs longer than this. 0 disables the limit.",
			},
			&cli.StringFlag{
				Name:  "input-style",
				Usage: "How chat turns reach the worker. One of [arg,stdin].",
			},
		},
		Action: func(ctx *cli.Context) error {
			v, err := config.New(ctx.String("config"))
			if err != nil {
				return err
			}
			for flag, key := range flagKeys {
				if !ctx.IsSet(flag) {
					continue
				}
				if flag == "worker-arg" {
					v.Set(key, ctx.StringSlice(flag))
					continue
				}
				v.Set(key, ctx.Value(flag))
			}
			cfg, err := config.Unmarshal(v)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			bridge, err := newBridge(cfg.Worker, logger)
			if err != nil {
				return err
			}
			srv := server.New(bridge,
				server.WithLogger(logger),
				server.WithListenAddr(cfg.ListenAddr),
			)

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			group, groupCtx := errgroup.WithContext(sigCtx)
			group.Go(srv.Run)
			group.Go(func() error {
				<-groupCtx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Stop(shutdownCtx)
			})
			return group.Wait()
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func newBridge(cfg config.WorkerConfig, logger *zap.Logger) (*worker.Bridge, error) {
	style, err := codec.ParseInputStyle(cfg.InputStyle)
	if err != nil {
		return nil, err
	}

	if cfg.Script != "" && !filepath.IsAbs(cfg.Script) {
		dir := cfg.Dir
		if dir == "" {
			dir = "."
		}
		if _, err := os.Stat(filepath.Join(dir, cfg.Script)); errors.Is(err, os.ErrNotExist) {
			found, err := files.FindUp(cfg.Script, dir)
			if err != nil {
				return nil, fmt.Errorf("locating worker script: %w", err)
			}
			logger.Sugar().Infof("using worker script %s", found)
			cfg.Script = found
		}
	}

	return worker.New(
		worker.WithLogger(logger),
		worker.WithCommand(cfg.Command, cfg.CommandArgs()...),
		worker.WithEnv(cfg.Env...),
		worker.WithDir(cfg.Dir),
		worker.WithInputStyle(style),
		worker.WithTimeout(cfg.Timeout),
	), nil
}

func chatCommand() *cli.Command {
	defaults := client.DefaultConfig()
	return &cli.Command{
		Name:  "chat",
		Usage: "chat with a running server from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "The server's base URL.",
				Value: defaults.BaseURL,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Deadline for each request attempt.",
				Value: defaults.Timeout,
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "Extra attempts after a timeout or connection failure.",
				Value: defaults.MaxRetries,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log requests to stderr.",
			},
		},
		Action: func(ctx *cli.Context) error {
			logger := zap.NewNop()
			if ctx.Bool("debug") {
				l, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("building logger: %w", err)
				}
				logger = l
			}

			c := client.NewClient(client.Config{
				BaseURL:    ctx.String("base-url"),
				Timeout:    ctx.Duration("timeout"),
				MaxRetries: ctx.Int("retries"),
			}, client.WithLogger(logger))
			session := chat.NewSession(c, logger.Sugar())

			return runREPL(ctx.Context, session, os.Stdin, os.Stdout)
		},
	}
}

// runREPL is the terminal UI: one line in, one reply out. Input is not read while a call is outstanding.
func runREPL(ctx context.Context, session *chat.Session, in io.Reader, out io.Writer) error {
	printed := 0
	flush := func() {
		transcript := session.Transcript()
		for _, b := range transcript[printed:] {
			if b.Role == chat.RoleAssistant {
				fmt.Fprintf(out, "assistant: %s\n", b.Text)
			}
		}
		printed = len(transcript)
	}

	// a failed init is reported in the transcript and the user can keep typing
	if err := session.Init(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	flush()

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		_, err := session.Send(ctx, scanner.Text())
		if err != nil && !errors.Is(err, chat.ErrEmptyMessage) && ctx.Err() != nil {
			return ctx.Err()
		}
		flush()
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}
