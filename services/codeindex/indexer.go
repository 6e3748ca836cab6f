package codeindex

import (
	"context"
	"log/slog"
	"time"

	"usvchain/core/events"
	"usvchain/crypto"
)

const writeTimeout = 5 * time.Second

// Indexer mirrors committed reward events into the Store. It implements
// events.Emitter and never blocks ledger execution on failure.
type Indexer struct {
	store  *Store
	reward string
	logger *slog.Logger
}

// NewIndexer builds an indexer that annotates issued codes with reward, the
// per-claim amount in base units.
func NewIndexer(store *Store, reward string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, reward: reward, logger: logger}
}

// Emit implements events.Emitter.
func (ix *Indexer) Emit(evt events.Event) {
	if ix == nil || ix.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := ix.Apply(ctx, evt); err != nil {
		ix.logger.Error("codeindex: failed to index event",
			slog.String("event", evt.EventType()),
			slog.Any("error", err))
	}
}

// Apply indexes a single event. Unrelated events are ignored.
func (ix *Indexer) Apply(ctx context.Context, evt events.Event) error {
	switch e := evt.(type) {
	case events.RewardsCodesGenerated:
		return ix.store.RecordBatch(ctx, BatchRecord{
			Batch:     crypto.FormatAccount(e.Batch),
			Sequence:  e.Sequence,
			PartnerID: e.PartnerID,
			BatchInfo: e.BatchInfo,
			Reward:    ix.reward,
			Hashes:    e.Hashes,
			IssuedAt:  time.Unix(e.CreatedAt, 0),
		})
	case events.RewardsCodeClaimed:
		amount := ""
		if e.Amount != nil {
			amount = e.Amount.Dec()
		}
		issued, err := ix.store.MarkClaimed(ctx, e.QRHash, crypto.FormatAddress(e.Claimer), amount, time.Unix(e.ClaimedAt, 0))
		if err != nil {
			return err
		}
		if !issued {
			ix.logger.Warn("codeindex: claim for code that was never issued",
				slog.String("qr_hash", e.QRHash),
				slog.String("claimer", crypto.FormatAddress(e.Claimer)))
		}
	}
	return nil
}
