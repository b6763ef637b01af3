package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aicove/syncd/internal/model"
	"github.com/doug-martin/goqu/v9"
)

func (p *Postgres) GetOperation(ctx context.Context, userID int64, opID string) (*model.SyncOperation, error) {
	query, _, err := p.goqu.From(p.tableOps).
		Select("op_id", "device_id", "op_type", "input", "result", "created_at").
		Where(goqu.I("user_id").Eq(userID), goqu.I("op_id").Eq(opID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get operation query: %w", err)
	}

	var op model.SyncOperation
	var input, result string
	err = p.exec(ctx).QueryRowContext(ctx, query).Scan(&op.OpID, &op.DeviceID, &op.OpType, &input, &result, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %q: %w", opID, err)
	}

	op.UserID = userID
	op.Input = []byte(input)
	op.Result = []byte(result)

	return &op, nil
}

func (p *Postgres) PutOperation(ctx context.Context, op model.SyncOperation) error {
	query, _, err := p.goqu.Insert(p.tableOps).Rows(goqu.Record{
		"op_id": op.OpID, "user_id": op.UserID, "device_id": op.DeviceID,
		"op_type": op.OpType, "input": string(op.Input), "result": string(op.Result),
		"created_at": op.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build put operation query: %w", err)
	}

	if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("put operation %q: %w", op.OpID, err)
	}

	return nil
}

func (p *Postgres) TruncateOperationsOlderThan(ctx context.Context, before int64) (int64, error) {
	query, _, err := p.goqu.Delete(p.tableOps).
		Where(goqu.I("created_at").Lt(before)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build truncate operations query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("truncate operations: %w", err)
	}

	return res.RowsAffected()
}

func (p *Postgres) GetCursor(ctx context.Context, userID int64, deviceID string) (*model.SyncCursor, error) {
	query, _, err := p.goqu.From(p.tableCursors).
		Select("conversations_since", "messages_since", "providers_since", "updated_at").
		Where(goqu.I("user_id").Eq(userID), goqu.I("device_id").Eq(deviceID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get cursor query: %w", err)
	}

	var c model.SyncCursor
	err = p.exec(ctx).QueryRowContext(ctx, query).Scan(
		&c.ConversationsSince, &c.MessagesSince, &c.ProvidersSince, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor for user %d device %q: %w", userID, deviceID, err)
	}

	c.UserID = userID
	c.DeviceID = deviceID

	return &c, nil
}

func (p *Postgres) PutCursor(ctx context.Context, c model.SyncCursor) error {
	query, _, err := p.goqu.Insert(p.tableCursors).Rows(goqu.Record{
		"user_id": c.UserID, "device_id": c.DeviceID,
		"conversations_since": c.ConversationsSince, "messages_since": c.MessagesSince,
		"providers_since": c.ProvidersSince, "updated_at": c.UpdatedAt,
	}).OnConflict(goqu.DoUpdate("user_id, device_id", goqu.Record{
		"conversations_since": c.ConversationsSince, "messages_since": c.MessagesSince,
		"providers_since": c.ProvidersSince, "updated_at": c.UpdatedAt,
	})).ToSQL()
	if err != nil {
		return fmt.Errorf("build put cursor query: %w", err)
	}

	if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("put cursor for user %d device %q: %w", c.UserID, c.DeviceID, err)
	}

	return nil
}
