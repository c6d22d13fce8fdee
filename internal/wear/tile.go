package wear

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TileState is what the watch persists and renders. Never authoritative: the
// phone is the source of truth and the tile only mirrors it.
type TileState struct {
	TotalAssets float64
	UpdatedAt   time.Time
	HasError    bool
}

// TileOptions tune watch-side validation.
type TileOptions struct {
	// FutureSkew tolerates small clock drift on payload timestamps.
	FutureSkew time.Duration
}

// TileRepository is the watch side of the protocol: it validates incoming
// payloads, applies them idempotently, and signals a redraw only when the
// content actually changed.
type TileRepository struct {
	channel DataChannel
	opts    TileOptions
	logger  zerolog.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      TileState
	applied    bool
	lastSentAt int64
	redraw     chan struct{}
}

// NewTileRepository constructs the watch-side store.
func NewTileRepository(channel DataChannel, opts TileOptions, logger zerolog.Logger) *TileRepository {
	if opts.FutureSkew <= 0 {
		opts.FutureSkew = 2 * time.Minute
	}
	return &TileRepository{
		channel: channel,
		opts:    opts,
		logger:  logger.With().Str("component", "tile_repository").Logger(),
		now:     time.Now,
		redraw:  make(chan struct{}, 1),
	}
}

// Start subscribes to the data channel; the returned cancel func detaches.
func (r *TileRepository) Start() func() {
	return r.channel.Subscribe(SyncPath, r.onDataChanged)
}

// Redraw signals with a value whenever the tile should re-render. Buffered to
// one: coalesced, never blocking the channel callback.
func (r *TileRepository) Redraw() <-chan struct{} {
	return r.redraw
}

// State returns the last applied tile state.
func (r *TileRepository) State() (TileState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.applied
}

// RequestRefresh asks the phone to recompute and push current totals. A
// missing peer capability is reported as ErrAppNotInstalled so the UI can say
// "install the phone app" instead of a generic failure.
func (r *TileRepository) RequestRefresh(ctx context.Context) error {
	if !r.channel.Reachable(ctx) {
		return ErrAppNotInstalled
	}

	r.mu.Lock()
	sentMs := r.now().UnixMilli()
	if sentMs <= r.lastSentAt {
		sentMs = r.lastSentAt + 1
	}
	r.lastSentAt = sentMs
	r.mu.Unlock()

	payload := SyncPayload{RequestSync: true, SentAt: sentMs}
	data, err := payload.Encode()
	if err != nil {
		return err
	}
	return r.channel.Put(ctx, SyncPath, data)
}

// onDataChanged validates and applies one delivered payload. Duplicate
// deliveries and no-op updates are absorbed without a redraw signal.
func (r *TileRepository) onDataChanged(data []byte) {
	payload, err := DecodePayload(data)
	if err != nil {
		r.logger.Warn().Err(err).Msg("dropping malformed payload")
		return
	}
	if payload.RequestSync {
		// Watch-originated pull marker echoed on the shared path.
		return
	}

	if math.IsNaN(payload.TotalAssets) || math.IsInf(payload.TotalAssets, 0) || payload.TotalAssets < 0 {
		r.logger.Warn().Float64("total", payload.TotalAssets).Msg("rejecting implausible total")
		return
	}
	updatedAt := time.UnixMilli(payload.UpdatedAt)
	if updatedAt.After(r.now().Add(r.opts.FutureSkew)) {
		r.logger.Warn().Time("updated_at", updatedAt).Msg("rejecting future-dated payload")
		return
	}

	next := TileState{
		TotalAssets: payload.TotalAssets,
		UpdatedAt:   updatedAt.UTC(),
		HasError:    payload.HasError,
	}

	r.mu.Lock()
	if r.applied && r.state == next {
		r.mu.Unlock()
		return
	}
	r.state = next
	r.applied = true
	r.mu.Unlock()

	select {
	case r.redraw <- struct{}{}:
	default:
	}
}
