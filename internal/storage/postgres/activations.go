package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
)

// ActivationStore implements interfaces.ActivationStore against a
// pack_activations table keyed by (tenant, pack_id).
type ActivationStore struct {
	db *sql.DB
}

func NewActivationStore(db *sql.DB) *ActivationStore {
	return &ActivationStore{db: db}
}

func (s *ActivationStore) Get(ctx context.Context, tenant, packID string) (*models.PackActivation, error) {
	const querySQL = `SELECT tenant, pack_id, enabled, rule_overrides, activated_at, updated_at
		FROM pack_activations WHERE tenant = $1 AND pack_id = $2`
	row := s.db.QueryRowContext(ctx, querySQL, tenant, packID)
	activation, err := scanActivation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get activation %s/%s: %w", tenant, packID, err)
	}
	return activation, nil
}

func (s *ActivationStore) ListForTenant(ctx context.Context, tenant string) ([]models.PackActivation, error) {
	const querySQL = `SELECT tenant, pack_id, enabled, rule_overrides, activated_at, updated_at
		FROM pack_activations WHERE tenant = $1`
	rows, err := s.db.QueryContext(ctx, querySQL, tenant)
	if err != nil {
		return nil, fmt.Errorf("list activations for %s: %w", tenant, err)
	}
	defer rows.Close()

	var out []models.PackActivation
	for rows.Next() {
		activation, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		out = append(out, *activation)
	}
	return out, rows.Err()
}

func (s *ActivationStore) Upsert(ctx context.Context, activation *models.PackActivation) error {
	if activation.ActivatedAt.IsZero() {
		activation.ActivatedAt = time.Now()
	}
	activation.UpdatedAt = time.Now()

	overrides, err := json.Marshal(activation.RuleOverrides)
	if err != nil {
		return fmt.Errorf("marshal rule overrides: %w", err)
	}

	const upsertSQL = `INSERT INTO pack_activations (tenant, pack_id, enabled, rule_overrides, activated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant, pack_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			rule_overrides = EXCLUDED.rule_overrides,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, upsertSQL, activation.Tenant, activation.PackID, activation.Enabled,
		overrides, activation.ActivatedAt, activation.UpdatedAt); err != nil {
		return fmt.Errorf("upsert activation %s/%s: %w", activation.Tenant, activation.PackID, err)
	}
	return nil
}

func (s *ActivationStore) Delete(ctx context.Context, tenant, packID string) error {
	const deleteSQL = `DELETE FROM pack_activations WHERE tenant = $1 AND pack_id = $2`
	if _, err := s.db.ExecContext(ctx, deleteSQL, tenant, packID); err != nil {
		return fmt.Errorf("delete activation %s/%s: %w", tenant, packID, err)
	}
	return nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows so scanActivation serves
// both Get and ListForTenant.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivation(row rowScanner) (*models.PackActivation, error) {
	var activation models.PackActivation
	var overrides []byte
	if err := row.Scan(&activation.Tenant, &activation.PackID, &activation.Enabled, &overrides,
		&activation.ActivatedAt, &activation.UpdatedAt); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &activation.RuleOverrides); err != nil {
			return nil, fmt.Errorf("unmarshal rule overrides: %w", err)
		}
	}
	return &activation, nil
}

var _ interfaces.ActivationStore = (*ActivationStore)(nil)
