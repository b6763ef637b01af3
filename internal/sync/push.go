package sync

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aicove/syncd/internal/model"
)

// Push applies a batch of operations under one server-chosen timestamp
// (spec §4.4). Operations run in input order; each is applied independently
// so that one op's failure never rolls back an earlier op's success. Verbs
// that must themselves be atomic (append-message, regen, fork) take their
// own transaction internally. An op_id already recorded for this user
// short-circuits to StatusDuplicate and replays the stored result instead
// of re-executing the verb. Each operation carries its own device_id (spec
// §6); there is no batch-wide device.
func (e *Engine) Push(ctx context.Context, userID int64, ops []PushOperation) ([]PushResult, error) {
	results := make([]PushResult, len(ops))
	ts := now()

	for i, op := range ops {
		results[i] = e.applyOne(ctx, userID, op, ts)
	}

	return results, nil
}

func (e *Engine) applyOne(ctx context.Context, userID int64, op PushOperation, ts int64) PushResult {
	if op.OpID == "" {
		return PushResult{OpID: op.OpID, Status: StatusError, Error: "op_id is required"}
	}

	existing, err := e.store.GetOperation(ctx, userID, op.OpID)
	if err != nil {
		return PushResult{OpID: op.OpID, Status: StatusError, Error: "look up operation: " + err.Error()}
	}
	if existing != nil {
		return PushResult{OpID: op.OpID, Status: StatusDuplicate, Result: json.RawMessage(existing.Result)}
	}

	result, err := e.dispatch(ctx, userID, op, ts)
	if err != nil {
		return PushResult{OpID: op.OpID, Status: StatusError, Error: err.Error()}
	}

	rec := model.SyncOperation{
		OpID:      op.OpID,
		UserID:    userID,
		DeviceID:  op.DeviceID,
		OpType:    op.OpType,
		Input:     op.Data,
		Result:    result,
		CreatedAt: ts,
	}

	if err := e.store.PutOperation(ctx, rec); err != nil {
		return PushResult{OpID: op.OpID, Status: StatusError, Error: "record operation: " + err.Error()}
	}

	e.fireTrigger(ctx, userID, op.OpType, result)

	return PushResult{OpID: op.OpID, Status: StatusSuccess, Result: result}
}

// fireTrigger dispatches the cloud-triggers add-on, best-effort: a webhook
// failure never fails the push that produced the event.
func (e *Engine) fireTrigger(ctx context.Context, userID int64, event string, payload json.RawMessage) {
	if e.triggers == nil {
		return
	}

	if err := e.triggers.Dispatch(ctx, userID, event, payload); err != nil {
		slog.Warn("sync: trigger dispatch failed", "event", event, "user_id", userID, "error", err)
	}
}
