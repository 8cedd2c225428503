package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"

	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
)

const logSelectColumns = "id, tenant, project, timestamp, service, level, message, span_id, attributes"

// LogStore implements interfaces.LogStore against a log_records table.
type LogStore struct {
	db *sql.DB
}

func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

// InsertBatch persists logs in a single transaction so a batch either lands
// in full or not at all, matching the spec's atomic-batch invariant.
func (s *LogStore) InsertBatch(ctx context.Context, tenant, project string, logs []models.LogInput) ([]models.LogRecord, error) {
	if len(logs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert batch tx: %w", err)
	}
	defer tx.Rollback()

	const insertSQL = `INSERT INTO log_records (id, tenant, project, timestamp, service, level, message, span_id, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	// A monotonic entropy source keeps ids strictly increasing within this
	// batch even when several logs share the same millisecond timestamp.
	entropy := ulid.Monotonic(rand.Reader, 0)

	out := make([]models.LogRecord, 0, len(logs))
	for _, in := range logs {
		attrs, err := json.Marshal(in.Attributes)
		if err != nil {
			return nil, fmt.Errorf("marshal log attributes: %w", err)
		}

		record := models.LogRecord{
			ID:         ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String(),
			Tenant:     tenant,
			Project:    project,
			Timestamp:  in.Timestamp,
			Service:    in.Service,
			Level:      in.Level,
			Message:    in.Message,
			SpanID:     in.SpanID,
			Attributes: in.Attributes,
		}

		if _, err := tx.ExecContext(ctx, insertSQL, record.ID, record.Tenant, record.Project, record.Timestamp,
			record.Service, record.Level, record.Message, record.SpanID, attrs); err != nil {
			return nil, fmt.Errorf("insert log record: %w", err)
		}
		out = append(out, record)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert batch tx: %w", err)
	}
	return out, nil
}

func (s *LogStore) GetByIDs(ctx context.Context, tenant, project string, ids []string) ([]models.LogRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const querySQL = `SELECT ` + logSelectColumns + ` FROM log_records
		WHERE tenant = $1 AND project = $2 AND id = ANY($3)`
	rows, err := s.db.QueryContext(ctx, querySQL, tenant, project, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("select logs by id: %w", err)
	}
	defer rows.Close()

	return scanLogRows(rows)
}

func (s *LogStore) ListByProject(ctx context.Context, tenant, project string, limit int, beforeID string) ([]models.LogRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if beforeID == "" {
		const querySQL = `SELECT ` + logSelectColumns + ` FROM log_records
			WHERE tenant = $1 AND project = $2
			ORDER BY timestamp DESC, id DESC
			LIMIT $3`
		rows, err = s.db.QueryContext(ctx, querySQL, tenant, project, limit)
	} else {
		const querySQL = `SELECT ` + logSelectColumns + ` FROM log_records
			WHERE tenant = $1 AND project = $2
			  AND (timestamp, id) < (SELECT timestamp, id FROM log_records WHERE id = $3)
			ORDER BY timestamp DESC, id DESC
			LIMIT $4`
		rows, err = s.db.QueryContext(ctx, querySQL, tenant, project, beforeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list logs by project: %w", err)
	}
	defer rows.Close()

	return scanLogRows(rows)
}

func scanLogRows(rows *sql.Rows) ([]models.LogRecord, error) {
	var out []models.LogRecord
	for rows.Next() {
		var record models.LogRecord
		var attrs []byte
		if err := rows.Scan(&record.ID, &record.Tenant, &record.Project, &record.Timestamp,
			&record.Service, &record.Level, &record.Message, &record.SpanID, &attrs); err != nil {
			return nil, fmt.Errorf("scan log record: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &record.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal log attributes: %w", err)
			}
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

var _ interfaces.LogStore = (*LogStore)(nil)
