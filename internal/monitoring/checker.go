package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker periodically scans the run log and raises alerts for failed, stuck
// or suspicious reconciliation runs.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background run log checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{collector: collector, alerter: alerter, cfg: cfg}
}

// Run checks the run log once at startup and then on every interval until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().Named("monitoring")
	log.Info("watching reconciliation runs",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Int("stuck_after_minutes", c.cfg.StuckRunMinutes),
	)

	if ctx.Err() == nil {
		c.Check(ctx, log)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("run watcher stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one run log snapshot, logs each triggered alert with the
// table and run it concerns, and delivers the alerts.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: read run log", zap.Error(err))
		return nil
	}

	log.Debug("monitoring: run log snapshot",
		zap.Int("runs", snap.RunsTotal),
		zap.Int("failed", snap.RunsFailed),
		zap.Int("running", snap.RunsRunning),
		zap.Int("records_new", snap.RecordsNew),
		zap.Int("records_updated", snap.RecordsUpdated),
		zap.Int("records_missing", snap.RecordsMissing),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return nil
	}
	for _, a := range alerts {
		log.Warn("monitoring: "+string(a.Type), alertFields(a)...)
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	if sent < len(alerts) && c.cfg.WebhookURL != "" {
		log.Warn("monitoring: some alerts were not delivered",
			zap.Int("triggered", len(alerts)),
			zap.Int("sent", sent),
		)
	}
	return alerts
}

// alertFields flattens the run identity of an alert into log fields.
func alertFields(a Alert) []zap.Field {
	fields := []zap.Field{zap.String("severity", a.Severity), zap.String("message", a.Message)}
	if table, ok := a.Details["table"].(string); ok {
		fields = append(fields, zap.String("table", table))
	}
	if runID, ok := a.Details["run_id"].(string); ok {
		fields = append(fields, zap.String("run_id", runID))
	}
	return fields
}
