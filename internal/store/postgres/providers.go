package postgres

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

func (p *Postgres) GetProvider(ctx context.Context, userID int64, id string) (*model.Provider, error) {
	query, _, err := p.goqu.From(p.tableProviders).
		Select(providerColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get provider query: %w", err)
	}

	prov, err := scanProvider(p.exec(ctx).QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %q: %w", id, err)
	}

	return prov, nil
}

func (p *Postgres) UpsertProvider(ctx context.Context, userID int64, prov model.Provider, ts int64, setKeys bool, encryptedKeys string) (*model.Provider, bool, error) {
	existing, err := p.GetProvider(ctx, userID, prov.ID)
	if err != nil {
		return nil, false, err
	}

	caps, _ := json.Marshal(prov.Capabilities)
	vis, _ := json.Marshal(prov.VisibleModels)
	hid, _ := json.Marshal(prov.HiddenModels)
	if prov.CustomConfig == nil {
		prov.CustomConfig = []byte("{}")
	}

	if existing != nil {
		keys := existing.EncryptedKeys
		if setKeys {
			keys = encryptedKeys
		}

		record := goqu.Record{
			"display_name": prov.DisplayName, "api_base_url": prov.APIBaseURL, "enabled": prov.Enabled,
			"capabilities": string(caps), "custom_config": string(prov.CustomConfig),
			"model_type": prov.ModelType, "visible_models": string(vis), "hidden_models": string(hid),
			"encrypted_keys": keys, "updated_at": ts,
		}

		query, _, err := p.goqu.Update(p.tableProviders).Set(record).
			Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(prov.ID)).ToSQL()
		if err != nil {
			return nil, false, fmt.Errorf("build update provider query: %w", err)
		}

		if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
			return nil, false, fmt.Errorf("update provider %q: %w", prov.ID, err)
		}

		prov.CreatedAt = existing.CreatedAt
		prov.UpdatedAt = ts
		prov.EncryptedKeys = keys

		return &prov, false, nil
	}

	keys := encryptedKeys
	if !setKeys {
		keys = "[]"
	}

	query, _, err := p.goqu.Insert(p.tableProviders).Rows(goqu.Record{
		"id": prov.ID, "user_id": userID, "display_name": prov.DisplayName, "api_base_url": prov.APIBaseURL,
		"enabled": prov.Enabled, "capabilities": string(caps), "custom_config": string(prov.CustomConfig),
		"model_type": prov.ModelType, "visible_models": string(vis), "hidden_models": string(hid),
		"encrypted_keys": keys, "created_at": ts, "updated_at": ts,
	}).ToSQL()
	if err != nil {
		return nil, false, fmt.Errorf("build insert provider query: %w", err)
	}

	if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
		return nil, false, fmt.Errorf("create provider %q: %w", prov.ID, err)
	}

	prov.UserID = userID
	prov.CreatedAt = ts
	prov.UpdatedAt = ts
	prov.EncryptedKeys = keys

	return &prov, true, nil
}

func (p *Postgres) ListProvidersSince(ctx context.Context, userID int64, since int64, limit int) ([]model.Provider, error) {
	query, _, err := p.goqu.From(p.tableProviders).
		Select(providerColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("updated_at").Gt(since)).
		Order(goqu.I("updated_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list providers query: %w", err)
	}

	return p.queryProviders(ctx, query)
}

func (p *Postgres) ListRecycledProviders(ctx context.Context, userID int64, now int64) ([]model.Provider, error) {
	query, _, err := p.goqu.From(p.tableProviders).
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

	return p.queryProviders(ctx, query)
}

func (p *Postgres) queryProviders(ctx context.Context, query string) ([]model.Provider, error) {
	rows, err := p.exec(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var result []model.Provider
	for rows.Next() {
		prov, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider row: %w", err)
		}
		result = append(result, *prov)
	}

	return result, rows.Err()
}

func (p *Postgres) SoftDeleteProvider(ctx context.Context, userID int64, id string, ts, purgeAt int64) error {
	query, _, err := p.goqu.Update(p.tableProviders).
		Set(goqu.Record{"deleted_at": ts, "purge_at": purgeAt, "updated_at": ts}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build soft-delete provider query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("soft-delete provider %q: %w", id, err)
	}

	return requireAffected(res, "provider", id)
}

func (p *Postgres) RestoreProvider(ctx context.Context, userID int64, id string) error {
	query, _, err := p.goqu.Update(p.tableProviders).
		Set(goqu.Record{"deleted_at": nil, "purge_at": nil}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build restore provider query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("restore provider %q: %w", id, err)
	}

	return requireAffected(res, "provider", id)
}
