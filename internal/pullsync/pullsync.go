// Package pullsync implements the pull half of a sync cycle: fetch every
// row changed since the local watermark, apply it in dependency order,
// and advance the watermark.
package pullsync

import (
	"context"
	"fmt"

	"github.com/marcus/cardsync/internal/syncqueue"
	"github.com/marcus/cardsync/internal/wire"
)

// Result is the outcome of one Pull call.
type Result struct {
	Applied int
	Raw     wire.PullResult
}

// Pull reads the current watermark, calls the injected transport, applies
// any returned rows in dependency order, and advances the watermark only
// if the server reports a strictly newer sync version — the watermark
// must be monotonically non-decreasing.
func Pull(ctx context.Context, q *syncqueue.Queue, pullFromServer wire.PullFromServerFunc) (Result, error) {
	watermark, err := q.GetLastSyncVersion()
	if err != nil {
		return Result{}, fmt.Errorf("read watermark: %w", err)
	}

	raw, err := pullFromServer(ctx, watermark)
	if err != nil {
		return Result{}, fmt.Errorf("pull from server: %w", err)
	}

	rows := toPulledRows(raw)
	applied := rows.Total()
	if applied > 0 {
		if err := q.ApplyPulledChanges(rows); err != nil {
			return Result{}, fmt.Errorf("apply pulled changes: %w", err)
		}
	}

	if raw.CurrentSyncVersion > watermark {
		if err := q.CompleteSync(raw.CurrentSyncVersion); err != nil {
			return Result{}, fmt.Errorf("complete sync: %w", err)
		}
	}

	return Result{Applied: applied, Raw: raw}, nil
}

func toPulledRows(raw wire.PullResult) syncqueue.PulledRows {
	return syncqueue.PulledRows{
		NoteTypes:       raw.NoteTypes,
		NoteFieldTypes:  raw.NoteFieldTypes,
		Decks:           raw.Decks,
		Notes:           raw.Notes,
		NoteFieldValues: raw.NoteFieldValues,
		Cards:           raw.Cards,
		ReviewLogs:      raw.ReviewLogs,
	}
}
