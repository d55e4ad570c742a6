// Package syncer reconciles the local replica with the remote authoritative
// store. It orchestrates upload, download and bidirectional sync across all
// entity types in dependency order, resolves per-record conflicts with the
// tombstone+timestamp rule, and schedules background runs with adaptive
// backoff.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/integrity"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/logging"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/observability"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
)

// Mode selects a sync direction.
type Mode string

const (
	ModeUpload        Mode = "upload"
	ModeDownload      Mode = "download"
	ModeBidirectional Mode = "bidirectional"
)

// State is the engine's externally visible state.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateSyncing    State = "syncing"
	StatePaused     State = "paused"
)

// Resolution says which side won a conflict.
type Resolution string

const (
	LocalWins  Resolution = "local_wins"
	RemoteWins Resolution = "remote_wins"
)

// ConflictEntry records one resolved conflict for observability. Conflicts
// are never failures; every one is resolved automatically and logged.
type ConflictEntry struct {
	EntityID      string
	Type          models.EntityType
	LocalVersion  models.Record
	RemoteVersion models.Record
	Resolution    Resolution
	Reason        string
}

// Result summarizes one sync cycle.
type Result struct {
	Mode       Mode
	Uploaded   int
	Downloaded int
	Conflicts  []ConflictEntry
	StartedAt  time.Time
	Duration   time.Duration
}

const (
	remoteCallAttempts = 3
	retryBaseWait      = time.Second
)

// Config tunes the background scheduler.
type Config struct {
	// BaseInterval is the wait after a successful cycle (default 5m).
	BaseInterval time.Duration
	// MaxInterval caps the failure backoff (default 30m).
	MaxInterval time.Duration
	// FailureLimit disables background sync after this many consecutive
	// failures (default 5); a successful manual sync re-arms it.
	FailureLimit int
	// TombstoneRetention bounds how long tombstones are kept (default 30d).
	TombstoneRetention time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{
		BaseInterval:       5 * time.Minute,
		MaxInterval:        30 * time.Minute,
		FailureLimit:       5,
		TombstoneRetention: 30 * 24 * time.Hour,
	}
	if c == nil {
		return out
	}
	if c.BaseInterval > 0 {
		out.BaseInterval = c.BaseInterval
	}
	if c.MaxInterval > 0 {
		out.MaxInterval = c.MaxInterval
	}
	if c.FailureLimit > 0 {
		out.FailureLimit = c.FailureLimit
	}
	if c.TombstoneRetention > 0 {
		out.TombstoneRetention = c.TombstoneRetention
	}
	return out
}

// Service is the sync engine. It is constructed once at application start
// and passed to every component that needs it; there is no global instance.
type Service struct {
	local     store.Local
	remote    store.Remote
	guard     *store.Guard
	checker   *integrity.Checker
	accountID string
	log       logging.Logger
	metrics   *observability.SyncMetrics
	cfg       Config
	now       func() time.Time
	retryBase time.Duration

	mu         sync.Mutex
	state      State
	inFlight   bool
	lastResult *Result
	sched      schedule
	online     bool
	triggerNow bool
	rearm      chan struct{}
}

func New(local store.Local, remote store.Remote, guard *store.Guard, checker *integrity.Checker,
	accountID string, cfg *Config, log logging.Logger, metrics *observability.SyncMetrics) *Service {
	if log == nil {
		log = logging.Nop()
	}
	c := cfg.withDefaults()
	return &Service{
		local:     local,
		remote:    remote,
		guard:     guard,
		checker:   checker,
		accountID: accountID,
		log:       log,
		metrics:   metrics,
		cfg:       c,
		now:       time.Now,
		retryBase: retryBaseWait,
		state:     StateIdle,
		sched:     schedule{base: c.BaseInterval, max: c.MaxInterval, limit: c.FailureLimit},
		online:    true,
		rearm:     make(chan struct{}, 1),
	}
}

// WithClock overrides the time source. Tests use it.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithRetryBase overrides the retry backoff base. Tests use it.
func (s *Service) WithRetryBase(d time.Duration) *Service {
	s.retryBase = d
	return s
}

// State returns the engine's current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns the most recent completed cycle, or nil.
func (s *Service) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// begin claims the single in-flight slot. Exactly one sync may run at a time.
func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *Service) end(res *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if res != nil {
		s.lastResult = res
	}
	if errors.Is(err, common.ErrOffline) {
		s.state = StatePaused
	} else {
		s.state = StateIdle
	}
	s.sched.observe(err)
	if err == nil {
		// A successful sync re-arms the scheduler at the base interval.
		s.kick()
	}
	s.metrics.SetInFlight(false)
}

// Sync runs one cycle in the given mode. A second request while one is in
// flight fails fast with ErrSyncInProgress. Bidirectional is the primary
// mode; the integrity validator runs first and auto-fixes what it can.
func (s *Service) Sync(ctx context.Context, mode Mode) (res *Result, err error) {
	if !s.begin() {
		return nil, common.ErrSyncInProgress
	}
	s.metrics.SetInFlight(true)
	defer func() {
		if err != nil {
			s.metrics.IncFailures()
		}
		s.end(res, err)
	}()

	if !s.remote.IsReachable(ctx) {
		s.log.Warn(ctx, "sync aborted: offline")
		return nil, common.ErrOffline
	}

	s.guard.Lock()
	defer s.guard.Unlock()

	s.setState(StateValidating)
	if s.checker != nil {
		if err := s.validate(ctx); err != nil {
			return nil, err
		}
	}

	s.setState(StateSyncing)
	started := s.now()
	res = &Result{Mode: mode, StartedAt: started}

	for _, t := range models.SyncOrder {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.log.Debug(ctx, "syncing collection", "entity", string(t))
		switch mode {
		case ModeUpload:
			err = s.uploadEntity(ctx, t, res)
		case ModeDownload:
			err = s.downloadEntity(ctx, t, res)
		case ModeBidirectional:
			err = s.reconcileEntity(ctx, t, res)
		default:
			err = fmt.Errorf("unknown sync mode %q", mode)
		}
		if err != nil {
			return res, fmt.Errorf("sync %s: %w", t, err)
		}
	}

	if mode == ModeBidirectional {
		if err := s.local.ClearDirty(ctx); err != nil {
			return res, err
		}
		s.sweepTombstones(ctx)
	}

	res.Duration = s.now().Sub(started)
	s.metrics.AddUploads(res.Uploaded)
	s.metrics.AddDownloads(res.Downloaded)
	s.metrics.AddConflicts(len(res.Conflicts))
	s.log.Info(ctx, "sync finished",
		"mode", string(mode),
		"uploaded", res.Uploaded,
		"downloaded", res.Downloaded,
		"conflicts", len(res.Conflicts),
		"duration", res.Duration.String())
	return res, nil
}

// validate runs the referential-integrity check and repairs what it can.
// Remaining issues are warned about; they never block sync.
func (s *Service) validate(ctx context.Context) error {
	result, err := s.checker.CheckReferentialIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if len(result.Issues) == 0 {
		return nil
	}
	rep, err := s.checker.AutoFix(ctx, result.Issues)
	if err != nil {
		return fmt.Errorf("integrity auto-fix: %w", err)
	}
	if rep.Skipped > 0 {
		s.log.Warn(ctx, "unresolved integrity issues remain", "count", rep.Skipped)
	}
	return nil
}

func (s *Service) sweepTombstones(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.TombstoneRetention)
	if n, err := s.local.PurgeTombstones(ctx, s.accountID, cutoff); err != nil {
		s.log.Warn(ctx, "local tombstone sweep failed", "error", err.Error())
	} else if n > 0 {
		s.log.Info(ctx, "local tombstones purged", "count", n)
	}
	if n, err := s.remote.PurgeTombstones(ctx, s.accountID, cutoff); err != nil {
		s.log.Warn(ctx, "remote tombstone sweep failed", "error", err.Error())
	} else if n > 0 {
		s.log.Info(ctx, "remote tombstones purged", "count", n)
	}
}

// retryRemote retries transient remote failures with linear backoff before
// giving up on the call.
func (s *Service) retryRemote(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	b := retry.WithMaxRetries(remoteCallAttempts-1, retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * s.retryBase, false
	}))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, common.ErrTransient) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func indexByID(recs []models.Record) map[string]models.Record {
	out := make(map[string]models.Record, len(recs))
	for _, r := range recs {
		out[r.GetID()] = r
	}
	return out
}

// payloadsEqual compares two versions structurally, ignoring bookkeeping
// fields.
func payloadsEqual(a, b models.Record) bool {
	return reflect.DeepEqual(a.Payload(), b.Payload())
}

// uploadEntity writes every active local record that is absent or differing
// on the remote. An "already exists" conflict on insert falls back to an
// update.
func (s *Service) uploadEntity(ctx context.Context, t models.EntityType, res *Result) error {
	locals, err := s.local.Collection(t).GetAll(ctx, s.accountID)
	if err != nil {
		return err
	}
	var remotes []models.Record
	if err := s.retryRemote(ctx, func(ctx context.Context) error {
		var err error
		remotes, err = s.remote.Collection(t).GetAll(ctx, s.accountID)
		return err
	}); err != nil {
		return err
	}
	remoteBy := indexByID(remotes)

	for _, rec := range locals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Meta().Deleted() {
			continue
		}
		remote, exists := remoteBy[rec.GetID()]
		if exists && payloadsEqual(rec, remote) && !remote.Meta().Deleted() {
			continue
		}
		if err := s.pushRemote(ctx, t, rec, !exists); err != nil {
			return err
		}
		if err := s.markSynced(ctx, t, rec); err != nil {
			return err
		}
		res.Uploaded++
	}
	return nil
}

// downloadEntity replaces the local collection with the remote collection's
// active contents. Local records absent or tombstoned remotely are removed
// unless they are pending upload.
func (s *Service) downloadEntity(ctx context.Context, t models.EntityType, res *Result) error {
	var remotes []models.Record
	if err := s.retryRemote(ctx, func(ctx context.Context) error {
		var err error
		remotes, err = s.remote.Collection(t).GetAll(ctx, s.accountID)
		return err
	}); err != nil {
		return err
	}
	locals, err := s.local.Collection(t).GetAll(ctx, s.accountID)
	if err != nil {
		return err
	}
	localBy := indexByID(locals)

	for _, rec := range remotes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Meta().Deleted() {
			continue
		}
		if err := s.writeLocal(ctx, t, rec); err != nil {
			return err
		}
		res.Downloaded++
	}

	remoteBy := indexByID(remotes)
	for id, rec := range localBy {
		if counterpart, ok := remoteBy[id]; ok && !counterpart.Meta().Deleted() {
			continue
		}
		if rec.Meta().SyncStatus == models.SyncStatusPending {
			continue
		}
		if err := s.local.Remove(ctx, t, id, s.accountID); err != nil {
			return err
		}
	}
	return nil
}

// reconcileEntity is the bidirectional pass for one entity type: local-only
// ids upload, remote-only ids download, ids present on both sides go through
// conflict detection.
func (s *Service) reconcileEntity(ctx context.Context, t models.EntityType, res *Result) error {
	locals, err := s.local.Collection(t).GetAll(ctx, s.accountID)
	if err != nil {
		return err
	}
	var remotes []models.Record
	if err := s.retryRemote(ctx, func(ctx context.Context) error {
		var err error
		remotes, err = s.remote.Collection(t).GetAll(ctx, s.accountID)
		return err
	}); err != nil {
		return err
	}
	localBy := indexByID(locals)
	remoteBy := indexByID(remotes)

	for _, rec := range locals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := remoteBy[rec.GetID()]; ok {
			continue
		}
		if rec.Meta().Deleted() {
			continue
		}
		if err := s.pushRemote(ctx, t, rec, true); err != nil {
			return err
		}
		if err := s.markSynced(ctx, t, rec); err != nil {
			return err
		}
		res.Uploaded++
	}

	for _, rec := range remotes {
		if err := ctx.Err(); err != nil {
			return err
		}
		local, ok := localBy[rec.GetID()]
		if !ok {
			if rec.Meta().Deleted() {
				continue
			}
			if err := s.writeLocal(ctx, t, rec); err != nil {
				return err
			}
			res.Downloaded++
			continue
		}
		if err := s.resolvePair(ctx, t, local, rec, res); err != nil {
			return err
		}
	}
	return nil
}

// resolvePair applies the conflict rules to a record present on both sides:
//
//  1. Exactly one side tombstoned: the tombstone time races the other side's
//     LastModified; the later instant wins, so a later edit resurrects a
//     tombstoned record and a later deletion beats an older edit. A tie goes
//     to the deleted side, so every replica settles on the deletion.
//  2. Both tombstoned: nothing to do.
//  3. Neither tombstoned: later LastModified wins; on a tie the remote side
//     wins.
//
// The losing side is overwritten with the winning payload as one write.
func (s *Service) resolvePair(ctx context.Context, t models.EntityType, local, remote models.Record, res *Result) error {
	lm, rm := local.Meta(), remote.Meta()

	switch {
	case lm.Deleted() && rm.Deleted():
		return nil

	case lm.Deleted() != rm.Deleted():
		var reason string
		var localWins bool
		if lm.Deleted() {
			localWins = !lm.DeletedAt.Before(rm.LastModified)
			if localWins {
				reason = "local deletion at or after remote edit"
			} else {
				reason = "remote edit later than local deletion"
			}
		} else {
			localWins = lm.LastModified.After(*rm.DeletedAt)
			if localWins {
				reason = "local edit later than remote deletion"
			} else {
				reason = "remote deletion at or after local edit"
			}
		}
		return s.applyWinner(ctx, t, local, remote, localWins, reason, res)

	default:
		if payloadsEqual(local, remote) {
			// Same content on both sides; just settle local bookkeeping.
			if lm.SyncStatus == models.SyncStatusPending {
				return s.markSynced(ctx, t, local)
			}
			return nil
		}
		localWins := lm.LastModified.After(rm.LastModified)
		reason := "remote version newer or equal"
		if localWins {
			reason = "local version newer"
		}
		return s.applyWinner(ctx, t, local, remote, localWins, reason, res)
	}
}

func (s *Service) applyWinner(ctx context.Context, t models.EntityType, local, remote models.Record, localWins bool, reason string, res *Result) error {
	entry := ConflictEntry{
		EntityID:      local.GetID(),
		Type:          t,
		LocalVersion:  local.Clone(),
		RemoteVersion: remote.Clone(),
		Reason:        reason,
	}
	if localWins {
		if err := s.pushRemote(ctx, t, local, false); err != nil {
			return err
		}
		if err := s.markSynced(ctx, t, local); err != nil {
			return err
		}
		entry.Resolution = LocalWins
		res.Uploaded++
	} else {
		if err := s.writeLocal(ctx, t, remote); err != nil {
			return err
		}
		entry.Resolution = RemoteWins
		res.Downloaded++
	}
	res.Conflicts = append(res.Conflicts, entry)
	s.log.Info(ctx, "conflict resolved",
		"entity", string(t), "id", entry.EntityID, "resolution", string(entry.Resolution), "reason", reason)
	return nil
}

// pushRemote writes one record to the remote store. Inserts that hit an
// existing id fall back to an update; updates that miss fall back to an
// insert.
func (s *Service) pushRemote(ctx context.Context, t models.EntityType, rec models.Record, insert bool) error {
	return s.retryRemote(ctx, func(ctx context.Context) error {
		coll := s.remote.Collection(t)
		var err error
		if insert {
			_, err = coll.Add(ctx, rec, s.accountID)
			if errors.Is(err, common.ErrAlreadyExists) {
				_, err = coll.Update(ctx, rec, s.accountID)
			}
		} else {
			_, err = coll.Update(ctx, rec, s.accountID)
			if errors.Is(err, common.ErrNotFound) {
				_, err = coll.Add(ctx, rec, s.accountID)
			}
		}
		return err
	})
}

// writeLocal applies a remote version to the local replica as one write, so
// a partially-applied resolution is never observable.
func (s *Service) writeLocal(ctx context.Context, t models.EntityType, remote models.Record) error {
	rec := remote.Clone()
	rec.Meta().SyncStatus = models.SyncStatusSynced
	coll := s.local.Collection(t)
	_, err := coll.Update(ctx, rec, s.accountID)
	if errors.Is(err, common.ErrNotFound) {
		_, err = coll.Add(ctx, rec, s.accountID)
	}
	return err
}

// markSynced clears a local record's pending flag without touching its
// modification timestamp.
func (s *Service) markSynced(ctx context.Context, t models.EntityType, rec models.Record) error {
	if rec.Meta().SyncStatus == models.SyncStatusSynced {
		return nil
	}
	c := rec.Clone()
	c.Meta().SyncStatus = models.SyncStatusSynced
	_, err := s.local.Collection(t).Update(ctx, c, s.accountID)
	return err
}
