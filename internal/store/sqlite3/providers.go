package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aicove/syncd/internal/model"
	"github.com/doug-martin/goqu/v9"
)

func providerColumns() []any {
	return []any{
		"id", "user_id", "display_name", "api_base_url", "enabled", "capabilities",
		"custom_config", "model_type", "visible_models", "hidden_models",
		"encrypted_keys", "deleted_at", "purge_at", "created_at", "updated_at",
	}
}

func scanProvider(row interface{ Scan(...any) error }) (*model.Provider, error) {
	var p model.Provider
	var capsJSON, visJSON, hidJSON string
	var deletedAt, purgeAt sql.NullInt64

	err := row.Scan(
		&p.ID, &p.UserID, &p.DisplayName, &p.APIBaseURL, &p.Enabled, &capsJSON,
		&p.CustomConfig, &p.ModelType, &visJSON, &hidJSON,
		&p.EncryptedKeys, &deletedAt, &purgeAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(capsJSON), &p.Capabilities)
	_ = json.Unmarshal([]byte(visJSON), &p.VisibleModels)
	_ = json.Unmarshal([]byte(hidJSON), &p.HiddenModels)

	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Int64
	}
	if purgeAt.Valid {
		p.PurgeAt = &purgeAt.Int64
	}

	return &p, nil
}

func (s *SQLite) GetProvider(ctx context.Context, userID int64, id string) (*model.Provider, error) {
	query, _, err := s.goqu.From(s.tableProviders).
		Select(providerColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get provider query: %w", err)
	}

	p, err := scanProvider(s.exec(ctx).QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %q: %w", id, err)
	}

	return p, nil
}

// UpsertProvider mirrors UpsertConversation. setKeys/encryptedKeys let the
// executor decide whether the caller supplied api_keys at all: when absent
// on update, the stored envelope is left untouched (spec §4.5).
func (s *SQLite) UpsertProvider(ctx context.Context, userID int64, p model.Provider, ts int64, setKeys bool, encryptedKeys string) (*model.Provider, bool, error) {
	existing, err := s.GetProvider(ctx, userID, p.ID)
	if err != nil {
		return nil, false, err
	}

	caps, _ := json.Marshal(p.Capabilities)
	vis, _ := json.Marshal(p.VisibleModels)
	hid, _ := json.Marshal(p.HiddenModels)
	if p.CustomConfig == nil {
		p.CustomConfig = []byte("{}")
	}

	if existing != nil {
		keys := existing.EncryptedKeys
		if setKeys {
			keys = encryptedKeys
		}

		record := goqu.Record{
			"display_name": p.DisplayName, "api_base_url": p.APIBaseURL, "enabled": p.Enabled,
			"capabilities": string(caps), "custom_config": string(p.CustomConfig),
			"model_type": p.ModelType, "visible_models": string(vis), "hidden_models": string(hid),
			"encrypted_keys": keys, "updated_at": ts,
		}

		query, _, err := s.goqu.Update(s.tableProviders).Set(record).
			Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(p.ID)).ToSQL()
		if err != nil {
			return nil, false, fmt.Errorf("build update provider query: %w", err)
		}

		if _, err := s.exec(ctx).ExecContext(ctx, query); err != nil {
			return nil, false, fmt.Errorf("update provider %q: %w", p.ID, err)
		}

		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = ts
		p.EncryptedKeys = keys

		return &p, false, nil
	}

	keys := encryptedKeys
	if !setKeys {
		keys = "[]"
	}

	query, _, err := s.goqu.Insert(s.tableProviders).Rows(goqu.Record{
		"id": p.ID, "user_id": userID, "display_name": p.DisplayName, "api_base_url": p.APIBaseURL,
		"enabled": p.Enabled, "capabilities": string(caps), "custom_config": string(p.CustomConfig),
		"model_type": p.ModelType, "visible_models": string(vis), "hidden_models": string(hid),
		"encrypted_keys": keys, "created_at": ts, "updated_at": ts,
	}).ToSQL()
	if err != nil {
		return nil, false, fmt.Errorf("build insert provider query: %w", err)
	}

	if _, err := s.exec(ctx).ExecContext(ctx, query); err != nil {
		return nil, false, fmt.Errorf("create provider %q: %w", p.ID, err)
	}

	p.UserID = userID
	p.CreatedAt = ts
	p.UpdatedAt = ts
	p.EncryptedKeys = keys

	return &p, true, nil
}

func (s *SQLite) ListProvidersSince(ctx context.Context, userID int64, since int64, limit int) ([]model.Provider, error) {
	query, _, err := s.goqu.From(s.tableProviders).
		Select(providerColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("updated_at").Gt(since)).
		Order(goqu.I("updated_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list providers query: %w", err)
	}

	return s.queryProviders(ctx, query)
}

func (s *SQLite) ListRecycledProviders(ctx context.Context, userID int64, now int64) ([]model.Provider, error) {
	query, _, err := s.goqu.From(s.tableProviders).
		Select(providerColumns()...).
		Where(
			goqu.I("user_id").Eq(userID),
			goqu.I("deleted_at").IsNotNull(),
			goqu.I("purge_at").Gt(now),
		).
		Order(goqu.I("updated_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build recycled providers query: %w", err)
	}

	return s.queryProviders(ctx, query)
}

func (s *SQLite) queryProviders(ctx context.Context, query string) ([]model.Provider, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var result []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider row: %w", err)
		}
		result = append(result, *p)
	}

	return result, rows.Err()
}

func (s *SQLite) SoftDeleteProvider(ctx context.Context, userID int64, id string, ts, purgeAt int64) error {
	query, _, err := s.goqu.Update(s.tableProviders).
		Set(goqu.Record{"deleted_at": ts, "purge_at": purgeAt, "updated_at": ts}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build soft-delete provider query: %w", err)
	}

	res, err := s.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("soft-delete provider %q: %w", id, err)
	}

	return requireAffected(res, "provider", id)
}

func (s *SQLite) RestoreProvider(ctx context.Context, userID int64, id string) error {
	query, _, err := s.goqu.Update(s.tableProviders).
		Set(goqu.Record{"deleted_at": nil, "purge_at": nil}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build restore provider query: %w", err)
	}

	res, err := s.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("restore provider %q: %w", id, err)
	}

	return requireAffected(res, "provider", id)
}
