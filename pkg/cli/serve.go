package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/howler-bot/howler/pkg/adapter/console"
	"github.com/howler-bot/howler/pkg/cli/config"
	server "github.com/howler-bot/howler/pkg/controller/http"
	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/service/command"
	"github.com/howler-bot/howler/pkg/service/escalation"
	"github.com/howler-bot/howler/pkg/utils/logging"
	"github.com/howler-bot/howler/pkg/utils/safe"
)

func cmdServe() *cli.Command {
	var (
		addr        string
		botName     string
		ackReaction string
		matrixCfg   config.Matrix
		storageCfg  config.Storage
		escCfg      config.Escalation
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Aliases:     []string{"a"},
				Sources:     cli.EnvVars("HOWLER_ADDR"),
				Usage:       "Listen address for the webhook endpoint",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "bot-name",
				Sources:     cli.EnvVars("HOWLER_BOT_NAME"),
				Usage:       "Name the bot answers to in room commands",
				Value:       command.DefaultBotName,
				Destination: &botName,
			},
			&cli.StringFlag{
				Name:        "ack-reaction",
				Sources:     cli.EnvVars("HOWLER_ACK_REACTION"),
				Usage:       "Reaction key that acknowledges an alert",
				Value:       escalation.AckReaction,
				Destination: &ackReaction,
			},
		},
		matrixCfg.Flags(),
		storageCfg.Flags(),
		escCfg.Flags(),
	)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the bot and the webhook server",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logging.Default().Info("starting howler",
				"addr", addr,
				"matrix", matrixCfg,
				"storage", storageCfg,
				"escalation", escCfg,
			)

			escConfig := escCfg.Configure()
			if err := escConfig.Validate(); err != nil {
				return err
			}

			repo, err := storageCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer safe.Close(ctx, repo)

			var notifier interfaces.Notifier
			if matrixCfg.IsConfigured() {
				notifier, err = matrixCfg.Configure(ctx, escConfig.Rooms)
				if err != nil {
					return err
				}
			} else {
				logging.From(ctx).Warn("matrix not configured, dry-run mode: alerts are printed to stdout and cannot be acknowledged from a room")
				notifier = console.New(os.Stdout)
			}

			engine, err := escalation.New(repo, notifier, escConfig)
			if err != nil {
				return err
			}
			loop := escalation.NewLoop(engine)
			dispatcher := command.NewDispatcher(engine, notifier,
				command.WithBotName(botName),
				command.WithAckReaction(ackReaction),
			)

			staleness := 3 * escConfig.CheckFrequency
			httpServer := http.Server{
				Addr:              addr,
				Handler:           server.New(engine, server.WithHealthChecker(loop, staleness)),
				ReadTimeout:       30 * time.Second,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext: func(l net.Listener) context.Context {
					return ctx
				},
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			errCh := make(chan error, 4)
			go func() {
				if err := notifier.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					errCh <- err
				}
			}()
			go func() {
				if err := dispatcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					errCh <- err
				}
			}()
			go func() {
				if err := loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					errCh <- err
				}
			}()
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				cancel()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
					errs.Handle(ctx, goerr.Wrap(serr, "failed to shut down webhook server"))
				}
				return err

			case sig := <-sigCh:
				logging.From(ctx).Info("shutting down", "signal", sig.String())
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}
}
