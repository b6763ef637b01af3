package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aicove/syncd/internal/config"
	"github.com/aicove/syncd/internal/model"
	"github.com/aicove/syncd/internal/store/memory"
)

const testKEK = "MDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA="

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := New(memory.New(), config.Sync{
		EncryptionKEK:      testKEK,
		RecycleWindow:      "168h",
		OperationRetention: "720h",
		ReaperInterval:     "1h",
		PullPageLimit:      500,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return e
}

func rawf(t *testing.T, v any) json.RawMessage {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return b
}

func mustPushOne(t *testing.T, e *Engine, userID int64, op PushOperation) PushResult {
	t.Helper()

	results, err := e.Push(context.Background(), userID, []PushOperation{op})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	return results[0]
}

func TestRetrySafeAppend(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	const userID = int64(1)

	mustPushOne(t, e, userID, PushOperation{
		OpID: "create-c1", DeviceID: "dev1", OpType: model.OpUpsertConversation,
		Data: rawf(t, dataUpsertConversation{ID: "c1", Title: "hello"}),
	})

	appendOp := PushOperation{
		OpID: "A", DeviceID: "dev1", OpType: model.OpAppendMessage,
		Data: rawf(t, dataAppendMessage{
			ID: "m1", ConversationID: "c1", Role: model.RoleUser, Content: "hi",
			Blocks: []dataBlock{{ID: "b1", Type: model.BlockMainText, Data: rawf(t, map[string]string{"text": "hi"})}},
		}),
	}

	first := mustPushOne(t, e, userID, appendOp)
	if first.Status != StatusSuccess {
		t.Fatalf("first push status = %q, want success", first.Status)
	}

	second := mustPushOne(t, e, userID, appendOp)
	if second.Status != StatusDuplicate {
		t.Fatalf("second push status = %q, want duplicate", second.Status)
	}
	if string(first.Result) != string(second.Result) {
		t.Fatalf("replayed result %s != original %s", second.Result, first.Result)
	}

	msgs, err := e.store.ListMessagesSince(ctx, userID, 0, 500)
	if err != nil {
		t.Fatalf("ListMessagesSince: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one m1 row, got %d", len(msgs))
	}
}

func TestScopeGatingOnPull(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	const userID = int64(2)

	if _, err := e.PutScopes(ctx, userID, []string{model.ScopeChatHistory}); err != nil {
		t.Fatalf("PutScopes: %v", err)
	}

	mustPushOne(t, e, userID, PushOperation{
		OpID: "p1", DeviceID: "dev1", OpType: model.OpUpsertProvider,
		Data: rawf(t, dataUpsertProvider{ID: "p1", DisplayName: "test", APIKeys: ptr([]string{"sk-x"})}),
	})

	resp, err := e.Pull(ctx, userID, PullRequest{})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(resp.Providers) != 0 {
		t.Fatalf("expected no providers with chat.history only scope, got %d", len(resp.Providers))
	}

	if _, err := e.PutScopes(ctx, userID, []string{model.ScopeChatHistory, model.ScopeProvidersConfig}); err != nil {
		t.Fatalf("PutScopes: %v", err)
	}

	resp, err = e.Pull(ctx, userID, PullRequest{})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(resp.Providers) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(resp.Providers))
	}
	if resp.Providers[0].APIKeys != nil {
		t.Fatalf("expected api_keys absent without providers.keys scope, got %v", resp.Providers[0].APIKeys)
	}

	if _, err := e.PutScopes(ctx, userID, []string{model.ScopeChatHistory, model.ScopeProvidersConfig, model.ScopeProvidersKeys}); err != nil {
		t.Fatalf("PutScopes: %v", err)
	}

	resp, err = e.Pull(ctx, userID, PullRequest{})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(resp.Providers) != 1 || len(resp.Providers[0].APIKeys) != 1 || resp.Providers[0].APIKeys[0] != "sk-x" {
		t.Fatalf("expected api_keys = [sk-x], got %+v", resp.Providers)
	}
}

// TestProvidersConfigScopeDoesNotGateConversations guards against
// providers.config leaking into the conversations feed: spec §4.3 pairs
// conversations with characters.cards/chat.history only, and providers
// with providers.config separately.
func TestProvidersConfigScopeDoesNotGateConversations(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	const userID = int64(7)

	if _, err := e.PutScopes(ctx, userID, []string{model.ScopeProvidersConfig}); err != nil {
		t.Fatalf("PutScopes: %v", err)
	}

	mustPushOne(t, e, userID, PushOperation{
		OpID: "c1", OpType: model.OpUpsertConversation,
		Data: rawf(t, dataUpsertConversation{ID: "c1", Title: "t"}),
	})

	resp, err := e.Pull(ctx, userID, PullRequest{})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(resp.Conversations) != 0 {
		t.Fatalf("expected no conversations with providers.config only scope, got %d", len(resp.Conversations))
	}
}

func TestDeleteCascadeAndRestore(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	const userID = int64(3)

	mustPushOne(t, e, userID, PushOperation{
		OpID: "c1", OpType: model.OpUpsertConversation,
		Data: rawf(t, dataUpsertConversation{ID: "c1", Title: "t"}),
	})
	mustPushOne(t, e, userID, PushOperation{
		OpID: "m1", OpType: model.OpAppendMessage,
		Data: rawf(t, dataAppendMessage{ID: "m1", ConversationID: "c1", Role: model.RoleUser, Content: "hi"}),
	})

	del := mustPushOne(t, e, userID, PushOperation{
		OpID: "del-c1", OpType: model.OpDelete,
		Data: rawf(t, dataDeleteOrRestore{Type: model.KindConversation, ID: "c1"}),
	})
	if del.Status != StatusSuccess {
		t.Fatalf("delete status = %q", del.Status)
	}

	bin, err := e.RecycleBin(ctx, userID)
	if err != nil {
		t.Fatalf("RecycleBin: %v", err)
	}
	if len(bin.Conversations) != 1 || bin.Conversations[0].DeletedAt == nil {
		t.Fatalf("expected c1 in recycle bin, got %+v", bin.Conversations)
	}
	if len(bin.Messages) != 1 || bin.Messages[0].DeletedAt == nil {
		t.Fatalf("expected m1 in recycle bin, got %+v", bin.Messages)
	}

	restore := mustPushOne(t, e, userID, PushOperation{
		OpID: "restore-c1", OpType: model.OpRestore,
		Data: rawf(t, dataDeleteOrRestore{Type: model.KindConversation, ID: "c1"}),
	})
	if restore.Status != StatusSuccess {
		t.Fatalf("restore status = %q", restore.Status)
	}

	bin, err = e.RecycleBin(ctx, userID)
	if err != nil {
		t.Fatalf("RecycleBin: %v", err)
	}
	if len(bin.Conversations) != 0 || len(bin.Messages) != 0 {
		t.Fatalf("expected empty recycle bin after restore, got %+v", bin)
	}
}

func TestRegenerateReplace(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	const userID = int64(4)

	mustPushOne(t, e, userID, PushOperation{
		OpID: "c1", OpType: model.OpUpsertConversation,
		Data: rawf(t, dataUpsertConversation{ID: "c1", Title: "t"}),
	})
	mustPushOne(t, e, userID, PushOperation{
		OpID: "m1", OpType: model.OpAppendMessage,
		Data: rawf(t, dataAppendMessage{ID: "m1", ConversationID: "c1", Role: model.RoleAssistant, Content: "v1"}),
	})

	regen := mustPushOne(t, e, userID, PushOperation{
		OpID: "regen1", OpType: model.OpRegen,
		Data: rawf(t, dataRegen{
			OldMessageID: "m1",
			NewMessage:   dataAppendMessage{ID: "m2", Content: "v2"},
		}),
	})
	if regen.Status != StatusSuccess {
		t.Fatalf("regen status = %q, error = %s", regen.Status, regen.Error)
	}

	resp, err := e.Pull(ctx, userID, PullRequest{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}

	var old, replacement *model.SyncMessage
	for i := range resp.Messages {
		switch resp.Messages[i].ID {
		case "m1":
			old = &resp.Messages[i]
		case "m2":
			replacement = &resp.Messages[i]
		}
	}
	if old == nil || old.DeletedAt == nil || old.ReplacedBy != "m2" {
		t.Fatalf("expected m1 soft-deleted with replaced_by=m2, got %+v", old)
	}
	if replacement == nil || replacement.Content != "v2" {
		t.Fatalf("expected m2 with content v2, got %+v", replacement)
	}

	if len(resp.Conversations) != 1 || resp.Conversations[0].LastMessage != "v2" {
		t.Fatalf("expected conversation preview v2, got %+v", resp.Conversations)
	}

	// Regenerating a user-role message must fail.
	mustPushOne(t, e, userID, PushOperation{
		OpID: "um1", OpType: model.OpAppendMessage,
		Data: rawf(t, dataAppendMessage{ID: "um1", ConversationID: "c1", Role: model.RoleUser, Content: "hi"}),
	})
	badRegen := mustPushOne(t, e, userID, PushOperation{
		OpID: "regen-bad", OpType: model.OpRegen,
		Data: rawf(t, dataRegen{OldMessageID: "um1", NewMessage: dataAppendMessage{ID: "um2", Content: "x"}}),
	})
	if badRegen.Status != StatusError {
		t.Fatalf("expected error regenerating a user message, got %q", badRegen.Status)
	}
}

func TestForkPreservesHistory(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	const userID = int64(5)

	mustPushOne(t, e, userID, PushOperation{
		OpID: "c1", OpType: model.OpUpsertConversation,
		Data: rawf(t, dataUpsertConversation{ID: "c1", Title: "parent"}),
	})

	for _, m := range []struct {
		id, role, content string
	}{
		{"m1", model.RoleUser, "one"},
		{"m2", model.RoleAssistant, "two"},
		{"m3", model.RoleUser, "three"},
	} {
		mustPushOne(t, e, userID, PushOperation{
			OpID: "append-" + m.id, OpType: model.OpAppendMessage,
			Data: rawf(t, dataAppendMessage{ID: m.id, ConversationID: "c1", Role: m.role, Content: m.content}),
		})
		// created_at has millisecond resolution; keep m1..m3 distinct.
		time.Sleep(2 * time.Millisecond)
	}

	copyMessages := true
	fork := mustPushOne(t, e, userID, PushOperation{
		OpID: "fork1", OpType: model.OpFork,
		Data: rawf(t, dataFork{
			ParentConversationID: "c1", ForkFromMessageID: "m2", NewConversationID: "c2",
			CopyMessages: &copyMessages,
		}),
	})
	if fork.Status != StatusSuccess {
		t.Fatalf("fork status = %q, error = %s", fork.Status, fork.Error)
	}

	resp, err := e.Pull(ctx, userID, PullRequest{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}

	var c2 *model.Conversation
	for i := range resp.Conversations {
		if resp.Conversations[i].ID == "c2" {
			c2 = &resp.Conversations[i]
		}
	}
	if c2 == nil {
		t.Fatalf("expected forked conversation c2 in pull results")
	}
	if c2.ParentConversationID != "c1" || c2.ForkFromMessageID != "m2" {
		t.Fatalf("c2 fork parentage = %+v", c2)
	}

	var copied int
	for _, m := range resp.Messages {
		if m.ConversationID != "c2" {
			continue
		}
		copied++
		if m.Content == "three" {
			t.Fatalf("fork must not copy messages after the fork point, got m3 copied")
		}
	}
	if copied != 2 {
		t.Fatalf("expected 2 copied messages in c2, got %d", copied)
	}
}

func TestUnknownScopeRejected(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PutScopes(context.Background(), 6, []string{"not.a.scope"})
	if err == nil || !strings.Contains(err.Error(), "unknown scope") {
		t.Fatalf("expected unknown-scope error, got %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestKEKDecoding(t *testing.T) {
	_, err := New(memory.New(), config.Sync{EncryptionKEK: "not-base64!!", RecycleWindow: "168h"})
	if err == nil {
		t.Fatalf("expected error for malformed KEK")
	}

	shortKEK := base64.StdEncoding.EncodeToString([]byte("too-short"))
	_, err = New(memory.New(), config.Sync{EncryptionKEK: shortKEK, RecycleWindow: "168h"})
	if err == nil {
		t.Fatalf("expected error for short KEK")
	}
}
