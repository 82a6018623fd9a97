// Command peergrade runs the peer grading batch jobs against the workshop
// database. An external scheduler or an operator invokes one subcommand
// per run:
//
//	peergrade calibrate --instance 3 --comparison 5 --consistency 5
//	peergrade grade --instance 3 --adjust
//	peergrade release --instance 3 --scope GROUP --target 12
//	peergrade status --instance 3
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-peer/internal/assessment"
	"github.com/mind-engage/mindengage-peer/internal/calibration"
	"github.com/mind-engage/mindengage-peer/internal/config"
	"github.com/mind-engage/mindengage-peer/internal/db"
	"github.com/mind-engage/mindengage-peer/internal/logger"
	"github.com/mind-engage/mindengage-peer/internal/rbac"
	syncx "github.com/mind-engage/mindengage-peer/internal/sync"
	"github.com/mind-engage/mindengage-peer/internal/teameval"
	"github.com/mind-engage/mindengage-peer/internal/workshop"
	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/agshttp"
	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/gradebook"
	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/kafkasink"
	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/sqlstore"
)

const usage = `usage: peergrade <calibrate|grade|release|status> [flags]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(cfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RecomputeTimeout)
	defer cancel()

	if err := run(ctx, cfg, log, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		log.Error("peergrade failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, cmd string, args []string, out io.Writer) error {
	app, err := open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	switch cmd {
	case "calibrate":
		return app.calibrate(ctx, args, out)
	case "grade":
		return app.grade(ctx, args, out)
	case "release":
		return app.release(ctx, args, out)
	case "status":
		return app.status(ctx, args, out)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

type app struct {
	svc     *workshop.Service
	syncs   *sqlstore.Store
	closers []func() error
	log     *zap.Logger
}

func open(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	dbh, err := db.Open(ctx, driver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	a := &app{syncs: &sqlstore.Store{DB: dbh}, closers: []func() error{dbh.Close}, log: log}

	sink, err := a.sink(cfg.Gradebook)
	if err != nil {
		a.close()
		return nil, err
	}
	teams := teameval.NewSQLStore(dbh)
	a.svc = workshop.New(workshop.Deps{
		Assessments: assessment.NewSQLStore(dbh),
		Calibration: calibration.NewSQLStore(dbh),
		TeamEval:    teams,
		Groups:      teams,
		Authz:       rbac.AllowAll{},
		Gradebook:   sink,
		Events:      syncx.NewEventRepo(dbh),
		LockMode:    cfg.LockMode,
		Workers:     cfg.RecomputeWorkers,
		Log:         log,
	})
	log.Info("peergrade ready",
		zap.String("db_driver", string(driver)),
		zap.String("gradebook_sink", cfg.Gradebook.Sink),
		zap.String("lock_mode", string(cfg.LockMode)))
	return a, nil
}

// sink builds the configured gradebook target wrapped in sync status
// tracking. "none" discards grades.
func (a *app) sink(cfg config.GradebookConfig) (gradebook.Sink, error) {
	var target gradebook.Sink
	switch cfg.Sink {
	case "", "none":
		return gradebook.Discard, nil
	case "ags":
		client := agshttp.New(agshttp.Config{
			TokenURL:     cfg.AGSTokenURL,
			ClientID:     cfg.AGSClientID,
			ClientSecret: cfg.AGSClientSecret,
			Scopes: []string{
				"https://purl.imsglobal.org/spec/lti-ags/scope/lineitem",
				"https://purl.imsglobal.org/spec/lti-ags/scope/score",
			},
			Timeout: cfg.AGSTimeout,
		})
		target = gradebook.NewAGSSink(a.syncs, client, cfg.AGSLineItemsURL)
	case "kafka":
		k := kafkasink.New(kafkasink.NewWriter(cfg.KafkaBrokers, cfg.KafkaGradesTopic))
		a.closers = append(a.closers, k.Close)
		target = k
	default:
		return nil, fmt.Errorf("unknown gradebook sink %q", cfg.Sink)
	}
	return gradebook.New(a.syncs, target, nil), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
}

func flags(name string) (*pflag.FlagSet, *int64, *int64) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	instance := fs.Int64("instance", 0, "workshop instance id")
	actor := fs.Int64("actor", 0, "user id recorded as the actor in the audit log")
	return fs, instance, actor
}

func needInstance(id int64) error {
	if id <= 0 {
		return errors.New("--instance is required")
	}
	return nil
}

func (a *app) calibrate(ctx context.Context, args []string, out io.Writer) error {
	fs, instance, actor := flags("calibrate")
	comparison := fs.Int("comparison", 5, "comparison level 1..9 (higher is more lenient)")
	consistency := fs.Int("consistency", 5, "consistency level 1..9 (higher is more lenient)")
	required := fs.Int("required", 0, "example submissions a reviewer must assess (0 = all)")
	form := fs.String("settings-json", "", "settings form payload; overrides the level flags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needInstance(*instance); err != nil {
		return err
	}

	settings := calibration.Settings{ComparisonLevel: *comparison, ConsistencyLevel: *consistency, RequiredExamples: *required}
	if *form != "" {
		var err error
		if settings, err = calibration.ParseSettings([]byte(*form)); err != nil {
			return err
		}
	}
	report, err := a.svc.RecomputeCalibration(ctx, *actor, *instance, settings)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"instance_id": *instance,
		"scores":      report.Scores,
		"warnings":    report.Messages(),
	})
}

func (a *app) grade(ctx context.Context, args []string, out io.Writer) error {
	fs, instance, actor := flags("grade")
	more := fs.Int64Slice("instances", nil, "several instance ids; recalibrates each one that has settings")
	adjust := fs.Bool("adjust", true, "weight peer grades by reviewer competence")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(*more) > 0 {
		reports, err := a.svc.RecomputeAll(ctx, *actor, *more, *adjust)
		if werr := writeJSON(out, reports); werr != nil {
			return werr
		}
		return err
	}
	if err := needInstance(*instance); err != nil {
		return err
	}
	report, err := a.svc.RecomputeGrades(ctx, *actor, *instance, *adjust)
	if err != nil {
		return err
	}
	return writeJSON(out, report)
}

func (a *app) release(ctx context.Context, args []string, out io.Writer) error {
	fs, instance, actor := flags("release")
	scope := fs.String("scope", string(teameval.ScopeAll), "ALL, GROUP or USER")
	target := fs.Int64("target", 0, "group or user id for GROUP and USER scopes")
	active := fs.Bool("active", true, "release (true) or withdraw (false)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needInstance(*instance); err != nil {
		return err
	}
	res, err := a.svc.SetRelease(ctx, *actor, *instance, teameval.Scope(*scope), *target, *active)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"instance_id":    *instance,
		"affected_users": res.Affected,
		"push":           res.Push,
		"warnings":       res.Warnings,
	})
}

func (a *app) status(ctx context.Context, args []string, out io.Writer) error {
	fs, instance, _ := flags("status")
	user := fs.Int64("user", 0, "also report whether this user's team evaluation marks are available")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needInstance(*instance); err != nil {
		return err
	}
	st, err := a.svc.Status(ctx, *instance)
	if err != nil {
		return err
	}
	failed, err := a.syncs.FailedSyncs(ctx, 0)
	if err != nil {
		return err
	}
	res := map[string]any{"status": st, "failed_gradebook_pushes": len(failed)}
	if *user > 0 {
		ok, err := a.svc.IsMarkAvailable(ctx, *instance, *user)
		if err != nil {
			return err
		}
		res["marks_available"] = ok
	}
	return writeJSON(out, res)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
