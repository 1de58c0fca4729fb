package authcore

import (
	"context"
	"sync"

	"github.com/nur2097/template-project-sub000/authz"
	"github.com/nur2097/template-project-sub000/blacklist"
	"github.com/nur2097/template-project-sub000/device"
	internalaudit "github.com/nur2097/template-project-sub000/internal/audit"
	"github.com/nur2097/template-project-sub000/internal/flows"
	"github.com/nur2097/template-project-sub000/internal/rate"
	"github.com/nur2097/template-project-sub000/internal/retry"
	"github.com/nur2097/template-project-sub000/jwt"
	"github.com/nur2097/template-project-sub000/password"
	"github.com/nur2097/template-project-sub000/policy"
	"github.com/nur2097/template-project-sub000/refresh"
	"github.com/nur2097/template-project-sub000/store"
	"github.com/rs/zerolog"
)

// Engine is the authentication and authorization backplane. It is safe for
// concurrent use once built.
type Engine struct {
	config Config
	log    zerolog.Logger

	store     store.Store
	jwt       *jwt.Manager
	hasher    *password.Hasher
	dummyHash string
	blacklist *blacklist.Blacklist
	refresh   *refresh.Manager
	devices   *device.Registry
	limiter   *rate.Limiter

	routes   *authz.Table
	enforcer policy.Enforcer
	chain    authz.Chain

	flows   flows.Service
	audit   *internalaudit.Dispatcher
	metrics *Metrics
	retry   *retry.Queue

	stop      chan struct{}
	closeOnce sync.Once
	janitorWG sync.WaitGroup
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Close stops the janitor, retry queue and audit dispatcher. It is idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.stop)
		e.janitorWG.Wait()
		e.retry.Close()
		e.blacklist.Wait()
		e.audit.Close()
	})
}

// RevokeDeviceCredentials revokes the refresh tokens of a device and
// blacklists its outstanding access tokens. The device registry calls it when
// evicting a device.
func (e *Engine) RevokeDeviceCredentials(ctx context.Context, userID int64, deviceID string) error {
	if _, err := e.refresh.RevokeForDevice(ctx, userID, deviceID); err != nil {
		return err
	}
	return e.blacklist.BlacklistDevice(ctx, userID, deviceID, e.config.now())
}

func (e *Engine) onFailOpen() {
	e.metrics.BlacklistFailOpen.Inc()
	e.emitAudit(context.Background(), AuditEvent{EventType: AuditBlacklistFailOpen})
}

func (e *Engine) onEvict(d store.Device) {
	e.metrics.DeviceEvictions.Inc()
	e.emitAudit(context.Background(), AuditEvent{
		EventType: AuditDeviceEvicted,
		UserID:    d.UserID,
		CompanyID: companyOf(d.CompanyID),
		DeviceID:  d.DeviceID,
		Success:   true,
	})
}

// onCascadeFailure hands a failed eviction to the retry queue, which repeats
// both the revocation and the deactivation. The registration that triggered
// the eviction still succeeds.
func (e *Engine) onCascadeFailure(userID int64, deviceID string, cause error) {
	ok := e.retry.Enqueue(retry.Job{
		Name: "evict_device",
		Run: func(ctx context.Context) error {
			if err := e.RevokeDeviceCredentials(ctx, userID, deviceID); err != nil {
				return err
			}
			return e.devices.Deactivate(ctx, userID, deviceID)
		},
	})
	if !ok {
		e.metrics.RevocationRetry.WithLabelValues("dropped").Inc()
		e.log.Error().Err(cause).Int64("user_id", userID).Str("device_id", deviceID).Msg("eviction cascade could not be queued for retry")
	}
}

func (e *Engine) onRetryResult(name string, ok bool) {
	if ok {
		e.metrics.RevocationRetry.WithLabelValues("success").Inc()
		return
	}
	e.metrics.RevocationRetry.WithLabelValues("exhausted").Inc()
	e.emitAudit(context.Background(), AuditEvent{
		EventType: AuditCascadeRetryFailed,
		Metadata:  map[string]string{"job": name},
	})
}
