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

func (p *Postgres) GetScopes(ctx context.Context, userID int64) (*model.SyncScope, error) {
	query, _, err := p.goqu.From(p.tableScopes).
		Select("enabled_scopes", "updated_at").
		Where(goqu.I("user_id").Eq(userID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get scopes query: %w", err)
	}

	var scopesJSON string
	var updatedAt int64
	err = p.exec(ctx).QueryRowContext(ctx, query).Scan(&scopesJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scopes for user %d: %w", userID, err)
	}

	var scopes []string
	if err := json.Unmarshal([]byte(scopesJSON), &scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes for user %d: %w", userID, err)
	}

	return &model.SyncScope{UserID: userID, EnabledScopes: scopes, UpdatedAt: updatedAt}, nil
}

func (p *Postgres) PutScopes(ctx context.Context, userID int64, scopes []string, ts int64) (*model.SyncScope, error) {
	blob, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("marshal scopes: %w", err)
	}

	upsert, _, err := p.goqu.Insert(p.tableScopes).Rows(
		goqu.Record{"user_id": userID, "enabled_scopes": string(blob), "updated_at": ts},
	).OnConflict(goqu.DoUpdate("user_id", goqu.Record{
		"enabled_scopes": string(blob),
		"updated_at":     ts,
	})).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build put scopes query: %w", err)
	}

	if _, err := p.exec(ctx).ExecContext(ctx, upsert); err != nil {
		return nil, fmt.Errorf("put scopes for user %d: %w", userID, err)
	}

	return &model.SyncScope{UserID: userID, EnabledScopes: scopes, UpdatedAt: ts}, nil
}
