package wear

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wealthwatcher/internal/portfolio"
)

// SyncOptions gate pushes over the low-bandwidth channel.
type SyncOptions struct {
	// ValueThreshold is the minimum absolute total change worth pushing.
	ValueThreshold float64
	// TimeThreshold forces a push after this long regardless of delta.
	TimeThreshold time.Duration
	// Debounce collapses bursts of snapshot updates into one push.
	Debounce time.Duration
	// PullTimeout bounds handling of a watch pull request.
	PullTimeout time.Duration
}

// PushState remembers what the watch last received.
type PushState struct {
	Valid    bool
	Total    float64
	HasError bool
	SentAt   time.Time
}

// ShouldSync is the pure push-gating decision: always push on an error-state
// transition; otherwise push only when the total moved by at least the value
// threshold or the time threshold elapsed since the last push.
func ShouldSync(opts SyncOptions, last PushState, total float64, hasError bool, now time.Time) bool {
	if !last.Valid {
		return true
	}
	if hasError != last.HasError {
		return true
	}
	if math.Abs(total-last.Total) >= opts.ValueThreshold {
		return true
	}
	return now.Sub(last.SentAt) >= opts.TimeThreshold
}

// TotalSource is the slice of the portfolio the sync manager needs.
type TotalSource interface {
	CurrentTotal(ctx context.Context) (portfolio.Snapshot, error)
	Subscribe() (<-chan portfolio.Snapshot, func())
}

// Manager is the phone side of the wear protocol: it watches portfolio
// snapshots, pushes gated debounced updates, and answers watch pull requests
// with an unconditional push.
type Manager struct {
	channel DataChannel
	source  TotalSource
	opts    SyncOptions
	logger  zerolog.Logger
	now     func() time.Time

	mu         sync.Mutex
	last       PushState
	lastSentMs int64
}

// NewManager constructs the phone-side sync manager.
func NewManager(channel DataChannel, source TotalSource, opts SyncOptions, logger zerolog.Logger) *Manager {
	if opts.ValueThreshold <= 0 {
		opts.ValueThreshold = 1
	}
	if opts.TimeThreshold <= 0 {
		opts.TimeThreshold = 15 * time.Minute
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = 10 * time.Second
	}
	return &Manager{
		channel: channel,
		source:  source,
		opts:    opts,
		logger:  logger.With().Str("component", "wear_sync_manager").Logger(),
		now:     time.Now,
	}
}

// Run blocks, forwarding snapshot updates and serving pull requests until ctx
// is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	snaps, cancelSub := m.source.Subscribe()
	defer cancelSub()

	unsubscribe := m.channel.Subscribe(SyncPath, func(data []byte) {
		m.onDataItem(ctx, data)
	})
	defer unsubscribe()

	var (
		timer      *time.Timer
		timerC     <-chan time.Time
		pending    portfolio.Snapshot
		hasPending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			pending = snap
			hasPending = true
			if timerC == nil {
				timer = time.NewTimer(m.opts.Debounce)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			if !hasPending {
				continue
			}
			hasPending = false
			if err := m.Push(ctx, pending, false); err != nil {
				m.logger.Warn().Err(err).Msg("wear push failed")
			}
		}
	}
}

// Push sends a snapshot to the watch. Unless force is set, the ShouldSync
// gate decides whether the update is significant enough to send.
func (m *Manager) Push(ctx context.Context, snap portfolio.Snapshot, force bool) error {
	total, _ := snap.Total.Float64()
	now := m.now()

	m.mu.Lock()
	if !force && !ShouldSync(m.opts, m.last, total, snap.Degraded, now) {
		m.mu.Unlock()
		return nil
	}
	sentMs := now.UnixMilli()
	if sentMs <= m.lastSentMs {
		sentMs = m.lastSentMs + 1
	}
	m.lastSentMs = sentMs
	m.mu.Unlock()

	payload := SyncPayload{
		TotalAssets: total,
		UpdatedAt:   snap.UpdatedAt.UnixMilli(),
		HasError:    snap.Degraded,
		SentAt:      sentMs,
	}
	data, err := payload.Encode()
	if err != nil {
		return err
	}
	if err := m.channel.Put(ctx, SyncPath, data); err != nil {
		return err
	}

	m.mu.Lock()
	m.last = PushState{Valid: true, Total: total, HasError: snap.Degraded, SentAt: now}
	m.mu.Unlock()

	m.logger.Debug().Float64("total", total).Bool("has_error", snap.Degraded).Msg("pushed wear payload")
	return nil
}

// onDataItem reacts to watch-originated pull requests; phone-originated items
// echo back over the shared path and are ignored.
func (m *Manager) onDataItem(ctx context.Context, data []byte) {
	payload, err := DecodePayload(data)
	if err != nil {
		m.logger.Warn().Err(err).Msg("dropping malformed wear item")
		return
	}
	if !payload.RequestSync {
		return
	}

	go func() {
		pullCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.PullTimeout)
		defer cancel()

		snap, err := m.source.CurrentTotal(pullCtx)
		if err != nil {
			m.logger.Error().Err(err).Msg("pull request: recompute totals failed")
			return
		}
		// Pull responses bypass the delta/time gate.
		if err := m.Push(pullCtx, snap, true); err != nil {
			m.logger.Warn().Err(err).Msg("pull request: push failed")
		}
	}()
}
