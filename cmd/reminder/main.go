package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/healapp/backend/internal/bootstrap"
	"github.com/healapp/backend/internal/config"
	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/logger"
	"github.com/healapp/backend/internal/reminder"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "reminder",
		Short:        "Reenvia o link de confirmação para consultas ainda pendentes",
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().Int("days-ahead", -1, "Dia alvo a partir de hoje (padrão: REMINDER_DAYS_AHEAD)")
	rootCmd.Flags().Bool("dry-run", false, "Só conta as consultas, sem enviar")
	rootCmd.Flags().String("date", "", "Dia alvo explícito (AAAA-MM-DD); ignora --days-ahead")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	entry := log.WithComponent("reminder")

	daysAhead, _ := cmd.Flags().GetInt("days-ahead")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	date, _ := cmd.Flags().GetString("date")
	if daysAhead < 0 {
		daysAhead = cfg.ReminderDaysAhead
	}

	loc := cfg.Location()
	from, to := reminder.Window(time.Now(), loc, daysAhead)
	if date != "" {
		day, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return fmt.Errorf("--date inválido: %w", err)
		}
		from, to = day, day.AddDate(0, 0, 1)
	}

	ctx := context.Background()
	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	svc := consultation.NewService(stores.Consultations,
		consultation.WithNotifier(bootstrap.Dispatcher(cfg, log)),
		consultation.WithAuditRecorder(stores.Audit),
		consultation.WithLogger(log),
		consultation.WithLocation(loc),
		consultation.WithNotifyTimeout(cfg.NotifyTimeout()),
	)
	defer svc.Close()

	res, err := reminder.Run(ctx, stores.Consultations, svc, from, to, dryRun, entry)
	if err != nil {
		return fmt.Errorf("reminder: %w", err)
	}
	entry.WithFields(logrus.Fields{
		"date":    from.Format("2006-01-02"),
		"due":     res.Due,
		"sent":    res.Sent,
		"failed":  res.Failed,
		"dry_run": dryRun,
	}).Info("[reminder] done")
	return nil
}
