package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pixelgrid-core/internal/driver"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Defaults describes the record created when a device is first referenced
// by a command before anyone configured it.
type Defaults struct {
	Width        int
	Height       int
	DefaultScene string
}

// Registry provides device management with caching, thread safety and the
// runtime driver binding. It wraps a Repository and adds an in-memory cache
// for fast lookups plus one stable driver Handle per device.
//
// The cache and handles are populated on startup via Reconcile() and kept
// in sync by cache-invalidating CRUD operations. Devices referenced by a
// command before anyone created them are materialised on the spot with a
// noop driver, so the full scheduling path works without hardware.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository
	factory  *driver.Factory
	defaults Defaults

	mu      sync.RWMutex
	cache   map[string]*Record        // Cached records by ID
	handles map[string]*driver.Handle // Stable driver handle per device

	logger Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the factory constructs drivers.
func NewRegistry(repo Repository, factory *driver.Factory, defaults Defaults) *Registry {
	if defaults.Width <= 0 {
		defaults.Width = 32
	}
	if defaults.Height <= 0 {
		defaults.Height = 8
	}
	return &Registry{
		repo:     repo,
		factory:  factory,
		defaults: defaults,
		cache:    make(map[string]*Record),
		handles:  make(map[string]*driver.Handle),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Reconcile loads all devices from the repository, rebuilds the cache and
// constructs a driver per device. Records persisted mid-operation (switching
// status) are normalised to idle. It returns the records that were playing
// when the process last stopped, so the caller can resume their scenes.
//
// A stored driver kind with no registered constructor falls back to noop
// rather than failing startup; the binding heals on the next driver swap.
func (r *Registry) Reconcile(ctx context.Context) ([]Record, error) {
	records, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*Record, len(records))
	r.handles = make(map[string]*driver.Handle, len(records))

	var resume []Record
	for i := range records {
		rec := records[i]

		if rec.Status == StatusSwitching {
			rec.Status = StatusIdle
			rec.ActiveScene = ""
			if err := r.repo.UpdateScene(ctx, rec.ID, "", StatusIdle, rec.Generation); err != nil {
				r.logger.Warn("normalising interrupted switch failed", "device_id", rec.ID, "error", err)
			}
		}

		d := r.buildDriver(&rec)
		r.handles[rec.ID] = driver.NewHandle(d)
		r.cache[rec.ID] = rec.DeepCopy()

		if rec.Status == StatusRunning && rec.ActiveScene != "" {
			resume = append(resume, *rec.DeepCopy())
		}
	}

	r.logger.Info("device registry reconciled", "count", len(records), "resuming", len(resume))
	return resume, nil
}

// buildDriver constructs the device's driver, falling back to noop when the
// stored kind has no constructor. Caller holds r.mu.
func (r *Registry) buildDriver(rec *Record) driver.Driver {
	d, err := r.factory.New(rec.DriverKind, driverConfig(rec))
	if err != nil {
		r.logger.Warn("driver construction failed, using noop",
			"device_id", rec.ID, "kind", rec.DriverKind, "error", err)
		d, _ = driver.NewNoop(driver.Config{DeviceID: rec.ID})
	}
	return d
}

// driverConfig maps a device record onto the driver constructor config.
func driverConfig(rec *Record) driver.Config {
	return driver.Config{
		DeviceID:   rec.ID,
		Address:    rec.Address,
		Width:      rec.Width,
		Height:     rec.Height,
		Brightness: rec.SupportsBrightness,
		Power:      rec.SupportsPower,
	}
}

// Get retrieves a device record by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned record is a deep copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Record, error) {
	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	rec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.handles[id]; !ok {
		r.handles[id] = driver.NewHandle(r.buildDriver(rec))
	}
	r.cache[id] = rec.DeepCopy()
	r.mu.Unlock()

	return rec, nil
}

// GetOrCreate retrieves a device record, materialising an unconfigured
// device on first reference. The new record gets the registry defaults and
// a noop driver, so commands addressed to never-configured devices still
// exercise the full pipeline.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Record, error) {
	rec, err := r.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	if err := ValidateID(id); err != nil {
		return nil, err
	}

	rec = &Record{
		ID:           id,
		DriverKind:   driver.KindNoop,
		Width:        r.defaults.Width,
		Height:       r.defaults.Height,
		Brightness:   100,
		DefaultScene: r.defaults.DefaultScene,
		Status:       StatusIdle,
	}

	if err := r.Create(ctx, rec); err != nil {
		// Lost a create race; the other writer's record wins.
		if errors.Is(err, ErrDeviceExists) {
			return r.Get(ctx, id)
		}
		return nil, err
	}

	r.logger.Info("device materialised on first reference", "device_id", id)
	return rec.DeepCopy(), nil
}

// Handle returns the stable driver handle for a device, or false if the
// device is not loaded. The handle survives driver swaps.
func (r *Registry) Handle(id string) (*driver.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// List retrieves all devices.
// The returned records are deep copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.cache) > 0 {
		records := make([]Record, 0, len(r.cache))
		for _, rec := range r.cache {
			records = append(records, *rec.DeepCopy())
		}
		return records, nil
	}

	return r.repo.List(ctx)
}

// Create validates and persists a new device, constructs its driver and
// caches the record.
func (r *Registry) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = GenerateID()
	}
	if rec.Status == "" {
		rec.Status = StatusIdle
	}

	if err := ValidateRecord(rec); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, rec); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[rec.ID] = rec.DeepCopy()
	if _, ok := r.handles[rec.ID]; !ok {
		r.handles[rec.ID] = driver.NewHandle(r.buildDriver(rec))
	}
	r.mu.Unlock()

	r.logger.Info("device created", "device_id", rec.ID, "driver", rec.DriverKind)
	return nil
}

// Update validates and persists changes to an existing device.
// Driver binding changes must go through SetDriver instead.
func (r *Registry) Update(ctx context.Context, rec *Record) error {
	if err := ValidateRecord(rec); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, rec); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[rec.ID] = rec.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("device updated", "device_id", rec.ID)
	return nil
}

// Delete closes the device's driver and removes the record.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, id)
	h := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if h != nil {
		if err := h.Get().Close(); err != nil {
			r.logger.Warn("closing driver on delete", "device_id", id, "error", err)
		}
	}

	r.logger.Info("device deleted", "device_id", id)
	return nil
}

// SetDriver hot-swaps a device's driver.
//
// The new driver is fully constructed and initialised before the swap, so
// any failure (unknown kind, bad config, unreachable device) leaves the
// previous driver active and the record untouched. On success the previous
// driver is closed and the new binding is persisted.
func (r *Registry) SetDriver(ctx context.Context, id, kind, address string) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	rec.DriverKind = kind
	if address != "" {
		rec.Address = address
	}

	next, err := r.factory.New(kind, driverConfig(rec))
	if err != nil {
		return err
	}
	if err := next.Initialize(ctx); err != nil {
		_ = next.Close()
		return fmt.Errorf("initialising %q driver: %w", kind, err)
	}

	if err := r.repo.Update(ctx, rec); err != nil {
		_ = next.Close()
		return err
	}

	r.mu.Lock()
	h, ok := r.handles[id]
	if !ok {
		r.handles[id] = driver.NewHandle(next)
	}
	r.cache[id] = rec.DeepCopy()
	r.mu.Unlock()

	if ok {
		prev := h.Swap(next)
		if err := prev.Close(); err != nil {
			r.logger.Warn("closing previous driver", "device_id", id, "error", err)
		}
	}

	r.logger.Info("driver swapped", "device_id", id, "kind", kind)
	return nil
}

// SetScene updates the playback fields of a device, write-through.
// This is called by the scheduler on every accepted switch, stop and
// terminal transition.
func (r *Registry) SetScene(ctx context.Context, id, activeScene string, status Status, generation uint64) error {
	if err := r.repo.UpdateScene(ctx, id, activeScene, status, generation); err != nil {
		return err
	}

	r.mu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.ActiveScene = activeScene
		updated.Status = status
		updated.Generation = generation
		updated.UpdatedAt = time.Now().UTC()
		r.cache[id] = updated
	}
	r.mu.Unlock()

	r.logger.Debug("device scene updated",
		"device_id", id, "scene", activeScene, "status", status, "generation", generation)
	return nil
}

// SetDefaultScene updates the scene used when a play command names none.
func (r *Registry) SetDefaultScene(ctx context.Context, id, scene string) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.DefaultScene = scene
	return r.Update(ctx, rec)
}

// SetBrightness persists a brightness level. The driver call itself is the
// caller's responsibility; unsupported capabilities are silent no-ops there.
func (r *Registry) SetBrightness(ctx context.Context, id string, level int) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Brightness = level
	return r.Update(ctx, rec)
}

// RecordRender updates render metrics after a completed cycle.
func (r *Registry) RecordRender(ctx context.Context, id string, renderedAt time.Time, pushDelta, errorDelta, frameMS int64) error {
	if err := r.repo.UpdateMetrics(ctx, id, renderedAt, pushDelta, errorDelta, frameMS); err != nil {
		return err
	}

	r.mu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		at := renderedAt.UTC()
		updated.LastRenderAt = &at
		updated.PushCount += pushDelta
		updated.ErrorCount += errorDelta
		updated.LastFrameMS = frameMS
		r.cache[id] = updated
	}
	r.mu.Unlock()

	return nil
}

// ResetMetrics zeroes a device's counters, write-through.
func (r *Registry) ResetMetrics(ctx context.Context, id string) error {
	if err := r.repo.ResetMetrics(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.LastRenderAt = nil
		updated.PushCount = 0
		updated.ErrorCount = 0
		updated.LastFrameMS = 0
		r.cache[id] = updated
	}
	r.mu.Unlock()

	r.logger.Info("device metrics reset", "device_id", id)
	return nil
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByStatus     map[Status]int
	ByDriver     map[string]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByStatus:     make(map[Status]int),
		ByDriver:     make(map[string]int),
	}

	for _, rec := range r.cache {
		stats.ByStatus[rec.Status]++
		stats.ByDriver[rec.DriverKind]++
	}

	return stats
}

// Close closes every device driver. Called on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := make([]*driver.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if err := h.Get().Close(); err != nil {
			r.logger.Warn("closing driver on shutdown", "error", err)
		}
	}
}
