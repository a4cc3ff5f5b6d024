package services

import (
	"context"
	"errors"
	"time"

	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	// Upper bound on entries returned by a journal listing.
	maxJournalListing = 500
)

// The delay between retries when writing a journal entry.
// Values are taken from SQLite's default busy handler.
var dbTryDelayMs = []int{1, 2, 5, 10, 15, 20, 25, 25, 25, 50, 50, 100}

// record appends an entry to the audit journal, if one is configured. The
// ledger write it describes has already happened, so failures are only logged.
func (s *Service) record(t models.JournalEventType, subject, txID, detail string) {
	if s.addJournalStmt == nil {
		return
	}

	var err error
	var try int
	for try = range dbTryDelayMs {
		if _, err = s.addJournalStmt.Exec(s.clock.Now().Unix(), t, subject, txID, detail); err == nil {
			s.m.Counter("journal_write").Inc()
			return
		}

		// Only busy and locked errors are worth retrying.
		var sqliteErr sqlite3.Error
		if !errors.As(err, &sqliteErr) {
			break
		}
		if sqliteErr.Code != sqlite3.ErrLocked && sqliteErr.Code != sqlite3.ErrBusy {
			break
		}

		sleepFor := dbTryDelayMs[try]
		s.logger.Warn("Failed to write journal entry. Retrying",
			zap.Int("try", try),
			zap.Int("retryMs", sleepFor),
			zap.Error(err))
		s.clock.Sleep(time.Duration(sleepFor) * time.Millisecond)
	}

	s.logger.Error("Failed to write journal entry. Giving up.",
		zap.String("type", t.String()),
		zap.String("subject", subject),
		zap.String("txId", txID),
		zap.Int("tries", try),
		zap.Error(err))
	s.m.Counter("journal_write_failed").Inc()
}

// ListJournal returns the newest entries of type t, newest first, and the
// total number of entries of that type.
func (s *Service) ListJournal(ctx context.Context, t models.JournalEventType, limit int) ([]models.JournalEvent, int64, error) {
	if s.listJournalStmt == nil {
		return nil, 0, unavailableError("Audit journal is not enabled")
	}
	if limit <= 0 || limit > maxJournalListing {
		limit = maxJournalListing
	}

	var total int64
	if err := s.countJournalStmt.QueryRowContext(ctx, t).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.listJournalStmt.QueryContext(ctx, t, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]models.JournalEvent, 0)
	for rows.Next() {
		var ev models.JournalEvent
		var evType models.JournalEventType
		if err := rows.Scan(&ev.Timestamp, &evType, &ev.Subject, &ev.TxID, &ev.Detail); err != nil {
			return nil, 0, err
		}
		ev.Type = evType.String()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
