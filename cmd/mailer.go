package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JAGGU8160/blog-app/config"
	"github.com/JAGGU8160/blog-app/internal/logging"
	"github.com/JAGGU8160/blog-app/internal/mail"
	"github.com/JAGGU8160/blog-app/internal/mq"
)

var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Deliver queued mail over SMTP",
	Long: `Consumes the mail queue and delivers each message over SMTP.
Run it alongside the server when MAIL_TRANSPORT=queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err := cfg.ValidateMailer(); err != nil {
			log.WithError(err).Error("invalid configuration")
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broker, err := mq.NewFromConfig(ctx, cfg.MQ)
		if err != nil {
			log.WithError(err).Error("failed to connect to broker")
			return err
		}
		defer broker.Close()

		worker := mail.NewWorker(broker, cfg.Mail.Queue, mail.NewSMTPSender(cfg.Mail.SMTP), log)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return worker.Run(gctx)
		})
		if err := g.Wait(); err != nil && gctx.Err() == nil {
			log.WithError(err).Error("mail worker stopped")
			return err
		}
		log.Info("mail worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
