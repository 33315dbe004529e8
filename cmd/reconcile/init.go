package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"coach_reconcile/config"
	"coach_reconcile/internal/checkpoint"
	"coach_reconcile/internal/database"
	"coach_reconcile/internal/logger"
	"coach_reconcile/internal/reconcile"
	"coach_reconcile/internal/reconcile/classifier"
	"coach_reconcile/internal/report"
	"coach_reconcile/internal/roster"
)

// application các thành phần dùng chung của mọi lệnh
type application struct {
	cfg         *config.Configuration
	roster      *roster.Roster
	classifier  *classifier.Classifier
	store       database.Store
	checkpoints checkpoint.Store
	notifier    *report.SlackNotifier
	log         *logrus.Logger
	errLog      logrus.FieldLogger
}

// initApp nạp cấu hình và roster, mở checkpoint store.
// withStore = false khi lệnh không cần document store (serve).
func initApp(ctx context.Context, envFile string, withStore bool) (*application, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.NewConfig(files...)
	if err != nil {
		return nil, err
	}

	a := &application{cfg: cfg, log: logger.GetAppLogger(), errLog: logger.GetErrorLogger()}

	a.roster, err = roster.Load(cfg.RosterPath)
	if err != nil {
		return nil, fmt.Errorf("không thể nạp roster %s: %w", cfg.RosterPath, err)
	}
	rules, err := classifier.RulesFromRoster(a.roster.Categories)
	if err != nil {
		return nil, err
	}
	a.classifier = classifier.New(rules, classifier.Options{Threshold: cfg.ConfidenceThreshold})

	a.checkpoints, err = checkpoint.OpenSQLite(cfg.CheckpointPath)
	if err != nil {
		return nil, fmt.Errorf("không thể mở checkpoint %s: %w", cfg.CheckpointPath, err)
	}

	if withStore {
		a.store, err = database.New(ctx, cfg)
		if err != nil {
			a.checkpoints.Close()
			return nil, err
		}
	}

	a.notifier = report.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannelID)

	a.log.WithFields(logrus.Fields{
		"backend":    cfg.StoreBackend,
		"collection": cfg.Collection,
		"roster":     cfg.RosterPath,
		"checkpoint": cfg.CheckpointPath,
	}).Info("✅ [INIT] Khởi tạo xong")
	return a, nil
}

// close đóng các kết nối
func (a *application) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.WithError(err).Warn("Không đóng được document store")
		}
	}
	if a.checkpoints != nil {
		if err := a.checkpoints.Close(); err != nil {
			a.log.WithError(err).Warn("Không đóng được checkpoint store")
		}
	}
}

// newDriver tạo driver với Options lấy từ cấu hình
func (a *application) newDriver(collection string, apply bool, passes []reconcile.Pass) (*reconcile.Driver, error) {
	opts := reconcile.OptionsFromConfig(a.cfg)
	if collection != "" {
		opts.Collection = collection
	}
	opts.Apply = apply
	opts.Passes = passes
	return reconcile.New(reconcile.Deps{
		Store:       a.store,
		Checkpoints: a.checkpoints,
		Roster:      a.roster,
		Classifier:  a.classifier,
		Log:         a.log,
		Audit:       logger.GetAuditLogger(),
	}, opts)
}
