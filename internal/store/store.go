// Package store provides PostgreSQL-backed persistence for completed
// reports and moderation records. Each saved report captures who
// reported whom, the offending message, and the classification; each
// saved moderation captures the disposition a moderator applied.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store manages reports and moderations in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SavedReport is the row shape for abuse_reports.
type SavedReport struct {
	ReporterID      string
	ReporterName    string
	Automated       bool
	GuildID         string
	ChannelID       string
	MessageID       string
	OffenderID      string
	OffenderName    string
	MessageContent  string
	BroadType       string
	SpecificType    string
	Severity        int
	DangerIndicated bool
	PermissionGiven bool
	Indicators      []string
}

// SavedModeration is the row shape for moderations.
type SavedModeration struct {
	ReportID            int64
	ModeratorID         string
	ModeratorName       string
	Actions             []string
	Justification       string
	AuthoritiesNotified bool
	AuthoritiesReport   string
}

// SaveReport inserts a completed report and returns its generated ID.
// Risk indicators are marshalled to JSONB. Callers must invoke this at
// most once per report completion.
func (s *Store) SaveReport(ctx context.Context, rep *SavedReport) (int64, error) {
	indicatorsJSON, err := json.Marshal(rep.Indicators)
	if err != nil {
		return 0, fmt.Errorf("store: marshal indicators: %w", err)
	}

	const query = `
		INSERT INTO abuse_reports (
			reporter_id, reporter_name, automated,
			guild_id, channel_id, message_id,
			offender_id, offender_name, message_content,
			broad_type, specific_type, severity,
			danger_indicated, permission_given, indicators
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	var id int64
	err = s.db.QueryRowContext(ctx, query,
		rep.ReporterID,
		rep.ReporterName,
		rep.Automated,
		rep.GuildID,
		rep.ChannelID,
		rep.MessageID,
		rep.OffenderID,
		rep.OffenderName,
		rep.MessageContent,
		rep.BroadType,
		rep.SpecificType,
		rep.Severity,
		rep.DangerIndicated,
		rep.PermissionGiven,
		indicatorsJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert report: %w", err)
	}
	return id, nil
}

// SaveModeration inserts a completed moderation record. Callers must
// invoke this at most once per moderation completion.
func (s *Store) SaveModeration(ctx context.Context, mod *SavedModeration) error {
	actionsJSON, err := json.Marshal(mod.Actions)
	if err != nil {
		return fmt.Errorf("store: marshal actions: %w", err)
	}

	const query = `
		INSERT INTO moderations (
			report_id, moderator_id, moderator_name,
			actions, justification,
			authorities_notified, authorities_report
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.db.ExecContext(ctx, query,
		mod.ReportID,
		mod.ModeratorID,
		mod.ModeratorName,
		actionsJSON,
		mod.Justification,
		mod.AuthoritiesNotified,
		mod.AuthoritiesReport,
	)
	if err != nil {
		return fmt.Errorf("store: insert moderation: %w", err)
	}
	return nil
}

// CountReportsAgainst returns how many saved reports name the given
// user as the offender. The router falls back to it when the Redis
// offense counters are unreachable.
func (s *Store) CountReportsAgainst(ctx context.Context, offenderID string) (int, error) {
	const query = `SELECT COUNT(*) FROM abuse_reports WHERE offender_id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, offenderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count reports: %w", err)
	}
	return count, nil
}
