package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ireland-samantha/relaybot/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "relaybot",
		Short:         "Telegram bot relaying messages to a chat completion API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (optional).")

	cmd.AddCommand(newPollCmd(&configFile))
	cmd.AddCommand(newServeCmd(&configFile))
	cmd.AddCommand(newWebhookCmd(&configFile))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newPollCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Receive updates with long polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			poller := telegram.NewPoller(a.api, a.dispatcher, a.cfg.Telegram.PollTimeout, a.logger)

			a.logger.Info("relaybot is running in polling mode. Press Ctrl+C to stop.")
			err = poller.Run(ctx)
			a.drain()
			return err
		},
	}
}

func newServeCmd(configFile *string) *cobra.Command {
	var skipRegister bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive updates through a webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.ValidateWebhook(); err != nil {
				return err
			}

			server := telegram.NewWebhookServer(a.cfg.Webhook, a.dispatcher, a.metricsHandler(), a.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Run(gctx)
			})
			if !skipRegister {
				g.Go(func() error {
					return registerWebhook(gctx, a)
				})
			}

			a.logger.Info("relaybot is running in webhook mode. Press Ctrl+C to stop.")
			err = g.Wait()
			a.drain()
			return err
		},
	}
	cmd.Flags().BoolVar(&skipRegister, "no-register", false, "Do not call setWebhook on startup.")

	return cmd
}

// registerWebhook replaces any existing webhook with the configured one.
func registerWebhook(ctx context.Context, a *app) error {
	if err := a.api.DeleteWebhook(ctx, false); err != nil {
		a.logger.Warn("failed to delete old webhook", "error", err)
	}
	url := a.cfg.Webhook.PublicURL()
	if err := a.api.SetWebhook(ctx, url, a.cfg.Webhook.SecretToken); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	a.logger.Info("webhook registered", "url", url)
	return nil
}

func newWebhookCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Register the configured webhook URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.ValidateWebhook(); err != nil {
				return err
			}
			if err := registerWebhook(ctx, a); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Webhook set to %s\n", a.cfg.Webhook.PublicURL())
			return nil
		},
	})

	var dropPending bool
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook so polling can be used",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.api.DeleteWebhook(ctx, dropPending); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Webhook deleted")
			return nil
		},
	}
	deleteCmd.Flags().BoolVar(&dropPending, "drop-pending", false, "Discard updates queued while the webhook was set.")
	cmd.AddCommand(deleteCmd)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "relaybot %s\n", telegram.Version)
			return nil
		},
	}
}
