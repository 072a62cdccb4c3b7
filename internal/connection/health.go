package connection

import (
	"context"
	"time"

	"orderbot_backend/internal/whatsapp"
	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"
)

// Monitor runs the periodic health tasks: liveness probing while connected,
// session integrity re-validation, housekeeping while disconnected, and
// optional session backups. Each task has its own timer; none blocks
// another.
type Monitor struct {
	manager *Manager
	client  whatsapp.Client
	session *SessionStore
	backup  *Backup
	cfg     config.HealthConfig
	log     *logger.Logger
}

// NewMonitor creates the health monitor. backup may be nil.
func NewMonitor(manager *Manager, client whatsapp.Client, session *SessionStore, backup *Backup, cfg config.HealthConfig, log *logger.Logger) *Monitor {
	return &Monitor{
		manager: manager,
		client:  client,
		session: session,
		backup:  backup,
		cfg:     cfg,
		log:     log.WithComponent("health"),
	}
}

// Run drives all health timers until the context is done.
func (mon *Monitor) Run(ctx context.Context) {
	liveness := time.NewTicker(mon.cfg.GetLivenessInterval())
	integrity := time.NewTicker(mon.cfg.GetIntegrityInterval())
	housekeeping := time.NewTicker(mon.cfg.GetHousekeepingInterval())
	defer liveness.Stop()
	defer integrity.Stop()
	defer housekeeping.Stop()

	var backupC <-chan time.Time
	if mon.backup != nil {
		backup := time.NewTicker(mon.cfg.GetBackupInterval())
		defer backup.Stop()
		backupC = backup.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-liveness.C:
			mon.probeLiveness(ctx)
		case <-integrity.C:
			mon.checkIntegrity()
		case <-housekeeping.C:
			mon.housekeep()
		case <-backupC:
			mon.snapshot(ctx)
		}
	}
}

// probeLiveness checks client readiness while connected. Non-ready states
// degrade health; terminal states trigger the disconnect path immediately
// instead of waiting for the client's own event.
func (mon *Monitor) probeLiveness(ctx context.Context) {
	if !mon.manager.IsConnected() {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	state, err := mon.client.GetState(probeCtx)
	if err != nil {
		mon.log.Warn("liveness probe failed", "error", err.Error())
		mon.manager.Degrade("liveness probe failed: " + err.Error())
		return
	}

	if state == whatsapp.StateConnected {
		mon.manager.MarkHeartbeat()
		return
	}

	if state.Terminal() {
		mon.manager.TriggerDisconnect("liveness probe found client state " + string(state))
		return
	}

	mon.manager.Degrade("client state " + string(state))
}

// checkIntegrity re-validates the on-disk session even while connected,
// catching artifacts deleted out of band.
func (mon *Monitor) checkIntegrity() {
	if err := mon.session.CheckIntegrity(); err == nil {
		return
	} else if mon.manager.IsConnected() {
		mon.manager.TriggerDisconnect("session corruption detected: " + err.Error())
	} else {
		mon.log.Warn("session corruption detected while disconnected")
	}
}

// housekeep cleans temp files, only while disconnected so a live session is
// never disturbed.
func (mon *Monitor) housekeep() {
	if mon.manager.IsConnected() {
		return
	}
	if _, err := mon.session.CleanupTemp(); err != nil {
		mon.log.Warn("session housekeeping failed", "error", err.Error())
	}
}

// snapshot uploads a session backup while the session is live and stable.
func (mon *Monitor) snapshot(ctx context.Context) {
	if !mon.manager.IsConnected() {
		return
	}
	if err := mon.backup.Snapshot(ctx); err != nil {
		mon.log.Warn("session backup failed", "error", err.Error())
	}
}
