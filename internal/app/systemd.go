package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "recurswap/pkg/logx"
)

// sdNotify reports state to systemd. It is a no-op outside a Type=notify
// unit (NOTIFY_SOCKET unset).
func (a *App) sdNotify(state string) {
	if !a.notifySystemd {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec while the app
// supervisor is healthy.
func (a *App) watchdog(ctx context.Context) {
	if !a.notifySystemd {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			a.sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
