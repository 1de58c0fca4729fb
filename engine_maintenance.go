package authcore

import (
	"context"
	"errors"
	"time"
)

// MaintenanceReport counts what RunMaintenance removed or restored.
type MaintenanceReport struct {
	RefreshTokensSwept int64
	FallbackSwept      int64
	DevicesPurged      int64

	// BlacklistRehydrated is set when the cache had lost its contents and
	// was refilled from the fallback table.
	BlacklistRehydrated bool
}

// RunMaintenance sweeps expired refresh tokens and blacklist fallback rows,
// hard-deletes devices inactive beyond the retention window and refills the
// blacklist cache if it was emptied. Every step runs even if an earlier one
// fails.
func (e *Engine) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	if !e.ready() {
		return report, ErrEngineNotReady
	}

	var errs []error
	n, err := e.refresh.SweepExpired(ctx)
	report.RefreshTokensSwept = n
	errs = append(errs, err)

	n, err = e.blacklist.Sweep(ctx)
	report.FallbackSwept = n
	errs = append(errs, err)

	n, err = e.devices.PurgeInactive(ctx)
	report.DevicesPurged = n
	errs = append(errs, err)

	report.BlacklistRehydrated, err = e.blacklist.EnsureHydrated(ctx)
	errs = append(errs, err)

	return report, errors.Join(errs...)
}

// RehydrateBlacklist copies live blacklist entries from the durable fallback
// back into the cache. Call it after the cache was restarted or flushed.
func (e *Engine) RehydrateBlacklist(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.blacklist.Rehydrate(ctx)
}

// StartJanitor runs RunMaintenance every interval until Close.
func (e *Engine) StartJanitor(interval time.Duration) {
	if !e.ready() || interval <= 0 {
		return
	}
	e.janitorWG.Add(1)
	go func() {
		defer e.janitorWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				report, err := e.RunMaintenance(ctx)
				cancel()
				if err != nil {
					e.log.Warn().Err(err).Msg("maintenance run failed")
					continue
				}
				e.log.Debug().
					Int64("refresh_swept", report.RefreshTokensSwept).
					Int64("fallback_swept", report.FallbackSwept).
					Int64("devices_purged", report.DevicesPurged).
					Bool("blacklist_rehydrated", report.BlacklistRehydrated).
					Msg("maintenance run complete")
			}
		}
	}()
}
