package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nur2097/template-project-sub000/store"
	"github.com/rs/zerolog"
)

// DefaultQuota is the number of active devices a user may hold.
const DefaultQuota = 5

// Metadata is the connection information observed for a request.
type Metadata struct {
	UserAgent string
	IP        string
}

// Revoker revokes every credential bound to an evicted device.
type Revoker interface {
	RevokeDeviceCredentials(ctx context.Context, userID int64, deviceID string) error
}

// Config controls quota and retention.
type Config struct {
	Quota int
	// Retention is how long inactive devices are kept before PurgeInactive removes them.
	Retention time.Duration
	Now       func() time.Time
	// OnEvict is called for each device evicted to make room.
	OnEvict func(d store.Device)
	// OnCascadeFailure is called when revoking or deactivating an evicted
	// device fails.
	OnCascadeFailure func(userID int64, deviceID string, err error)
}

// userLockStripes bounds the per-user registration locks.
const userLockStripes = 64

// Registry tracks devices per user.
type Registry struct {
	store   store.DeviceStore
	revoker Revoker
	cfg     Config
	log     zerolog.Logger

	// Registrations of one user are serialized so the quota read and the
	// insert cannot interleave within this process.
	locks [userLockStripes]sync.Mutex
}

// NewRegistry wires a registry. revoker may be nil, in which case eviction
// only deactivates devices.
func NewRegistry(s store.DeviceStore, revoker Revoker, cfg Config, log zerolog.Logger) (*Registry, error) {
	if s == nil {
		return nil, errors.New("device store required")
	}
	if cfg.Quota <= 0 {
		cfg.Quota = DefaultQuota
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		store:   s,
		revoker: revoker,
		cfg:     cfg,
		log:     log.With().Str("component", "device").Logger(),
	}, nil
}

// Quota returns the configured active device limit.
func (r *Registry) Quota() int {
	return r.cfg.Quota
}

// RegisterOrTouch records that userID is using deviceID. A known device is
// reactivated and touched. A new device first makes room by evicting the
// least recently used active devices, then is inserted.
func (r *Registry) RegisterOrTouch(ctx context.Context, userID int64, companyID *int64, deviceID string, meta Metadata) (*store.Device, error) {
	if userID <= 0 || deviceID == "" {
		return nil, errors.New("user id and device id required")
	}
	unlock := r.lockUser(userID)
	defer unlock()
	now := r.cfg.Now()

	existing, err := r.store.DeviceByID(ctx, userID, deviceID)
	switch {
	case err == nil:
		if !existing.Active {
			// A returning evicted device counts against the quota again.
			if err := r.makeRoom(ctx, userID); err != nil {
				return nil, err
			}
		}
		if err := r.store.TouchDevice(ctx, userID, deviceID, meta.UserAgent, meta.IP, now); err != nil {
			return nil, err
		}
		if !existing.Active {
			r.trim(ctx, userID, deviceID)
		}
		existing.Active = true
		existing.LastAccessAt = now
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if err := r.makeRoom(ctx, userID); err != nil {
		return nil, err
	}

	created, err := r.store.InsertDevice(ctx, store.Device{
		DeviceID:     deviceID,
		UserID:       userID,
		CompanyID:    companyID,
		UserAgent:    meta.UserAgent,
		IP:           meta.IP,
		Name:         Name(meta.UserAgent),
		Active:       true,
		LastAccessAt: now,
		CreatedAt:    now,
	})
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent first sighting of the same device.
		if err := r.store.TouchDevice(ctx, userID, deviceID, meta.UserAgent, meta.IP, now); err != nil {
			return nil, err
		}
		return r.store.DeviceByID(ctx, userID, deviceID)
	}
	if err != nil {
		return nil, err
	}
	r.trim(ctx, userID, deviceID)
	return created, nil
}

func (r *Registry) lockUser(userID int64) func() {
	mu := &r.locks[uint64(userID)%userLockStripes]
	mu.Lock()
	return mu.Unlock
}

// trim evicts active devices beyond the quota, oldest first, sparing keep.
// Surplus appears when another process registered a device for the same
// user between our quota check and insert, or when an eviction could not
// deactivate its device.
func (r *Registry) trim(ctx context.Context, userID int64, keep string) {
	active, err := r.store.ActiveDevices(ctx, userID)
	if err != nil {
		r.log.Warn().Err(err).Int64("user_id", userID).Msg("device quota recheck failed")
		return
	}
	surplus := len(active) - r.cfg.Quota
	for _, d := range active {
		if surplus <= 0 {
			return
		}
		if d.DeviceID == keep {
			continue
		}
		r.evict(ctx, d)
		surplus--
	}
}

// makeRoom evicts activeCount - quota + 1 devices, oldest lastAccessAt first.
func (r *Registry) makeRoom(ctx context.Context, userID int64) error {
	active, err := r.store.ActiveDevices(ctx, userID)
	if err != nil {
		return err
	}
	excess := len(active) - r.cfg.Quota + 1
	if excess <= 0 {
		return nil
	}
	if excess > len(active) {
		excess = len(active)
	}
	for _, d := range active[:excess] {
		r.evict(ctx, d)
	}
	return nil
}

// evict revokes and deactivates d. Either failure is reported once through
// OnCascadeFailure so the caller can retry the whole eviction.
func (r *Registry) evict(ctx context.Context, d store.Device) {
	var failed error
	if r.revoker != nil {
		if err := r.revoker.RevokeDeviceCredentials(ctx, d.UserID, d.DeviceID); err != nil {
			r.log.Warn().Err(err).
				Int64("user_id", d.UserID).
				Str("device_id", d.DeviceID).
				Msg("evicted device revocation failed")
			failed = err
		}
	}
	deactivateErr := r.store.DeactivateDevice(ctx, d.UserID, d.DeviceID)
	if deactivateErr != nil {
		r.log.Warn().Err(deactivateErr).
			Int64("user_id", d.UserID).
			Str("device_id", d.DeviceID).
			Msg("evicted device deactivation failed")
		failed = errors.Join(failed, deactivateErr)
	}
	if failed != nil && r.cfg.OnCascadeFailure != nil {
		r.cfg.OnCascadeFailure(d.UserID, d.DeviceID, failed)
	}
	if deactivateErr != nil {
		return
	}
	r.log.Info().Int64("user_id", d.UserID).Str("device_id", d.DeviceID).Msg("device evicted")
	if r.cfg.OnEvict != nil {
		r.cfg.OnEvict(d)
	}
}

// Touch updates lastAccessAt of an existing device.
func (r *Registry) Touch(ctx context.Context, userID int64, deviceID string) error {
	return r.store.TouchDevice(ctx, userID, deviceID, "", "", r.cfg.Now())
}

// Deactivate marks the device inactive. Missing devices are not an error.
func (r *Registry) Deactivate(ctx context.Context, userID int64, deviceID string) error {
	err := r.store.DeactivateDevice(ctx, userID, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Active lists active devices, oldest first.
func (r *Registry) Active(ctx context.Context, userID int64) ([]store.Device, error) {
	return r.store.ActiveDevices(ctx, userID)
}

// List returns every device of userID, most recently used first.
func (r *Registry) List(ctx context.Context, userID int64) ([]store.Device, error) {
	return r.store.ListDevices(ctx, userID)
}

// PurgeInactive hard-deletes devices inactive for longer than the retention window.
func (r *Registry) PurgeInactive(ctx context.Context) (int64, error) {
	return r.store.PurgeInactiveDevices(ctx, r.cfg.Now().Add(-r.cfg.Retention))
}
