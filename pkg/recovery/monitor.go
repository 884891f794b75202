package recovery

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// monitor runs the two process-wide periodic sweeps: heartbeat staleness
// detection and snapshot cleanup.
type monitor struct {
	cron *cron.Cron
	log  *slog.Logger
}

func newMonitor(cfg Config, sweep func(), cleanup func()) (*monitor, error) {
	m := &monitor{
		cron: cron.New(),
		log:  slog.Default().With("component", "heartbeat-monitor"),
	}

	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", cfg.HeartbeatInterval), sweep); err != nil {
		return nil, fmt.Errorf("schedule heartbeat sweep: %w", err)
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", cfg.CleanupInterval), cleanup); err != nil {
		return nil, fmt.Errorf("schedule snapshot cleanup: %w", err)
	}
	return m, nil
}

func (m *monitor) start() {
	m.cron.Start()
	m.log.Info("monitor started")
}

// stop halts the sweeps; running jobs finish before it returns.
func (m *monitor) stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("monitor stopped")
}
