package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
)

// Channel is the Postgres NOTIFY channel carrying logs_new payloads.
const Channel = "logs_new"

// maxPayloadBytes is the publisher's safety margin under Postgres's ~8KB
// NOTIFY payload cap; batches whose encoded logIds would exceed it are
// split into contiguous chunks, each emitted as its own message.
const maxPayloadBytes = 7900

// bytesPerID is the estimated marshaled size of one id within the logIds
// array, used to size chunks before ever touching json.Marshal.
const bytesPerID = 40

// Publisher emits post-commit logs_new notifications, chunked to respect
// the primary store's payload cap. It never returns an error to its caller
// for a send failure — failures are logged and swallowed, matching the
// "the publisher never throws" contract.
type Publisher struct {
	db     *sql.DB
	logger *common.Logger
}

// NewPublisher builds a Publisher over db, which must already be open.
func NewPublisher(db *sql.DB, logger *common.Logger) *Publisher {
	return &Publisher{db: db, logger: logger}
}

// Publish emits one or more logs_new notifications covering logIDs for
// projectID, split into contiguous chunks no larger than maxPayloadBytes.
// Chunk order matches input order. All failures are logged, never
// returned — callers invoke this best-effort, after their own insert has
// already committed.
func (p *Publisher) Publish(ctx context.Context, projectID string, logIDs []string, timestamp time.Time) {
	if len(logIDs) == 0 {
		return
	}
	for _, chunk := range chunkIDs(logIDs) {
		n := models.LogsNewNotification{ProjectID: projectID, LogIDs: chunk, Timestamp: timestamp}
		body, err := json.Marshal(n)
		if err != nil {
			p.logger.Warn().Err(err).Str("project_id", projectID).Msg("Publisher: failed to marshal notification")
			continue
		}
		if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, string(body)); err != nil {
			p.logger.Warn().Err(err).Str("project_id", projectID).Int("log_ids", len(chunk)).Msg("Publisher: pg_notify failed")
		}
	}
}

// maxLogIDsPerChunk is the number of ids per notification, estimating
// bytesPerID bytes each against the maxPayloadBytes safety margin.
const maxLogIDsPerChunk = maxPayloadBytes / bytesPerID

// chunkIDs splits ids into contiguous runs of at most maxLogIDsPerChunk,
// preserving input order.
func chunkIDs(ids []string) [][]string {
	maxPerChunk := maxLogIDsPerChunk

	var chunks [][]string
	for start := 0; start < len(ids); start += maxPerChunk {
		end := start + maxPerChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
