package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aicove/syncd/internal/config"
	"github.com/aicove/syncd/internal/store"
	"github.com/microcosm-cc/bluemonday"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// TriggerDispatcher fires the cloud-triggers add-on on sync events. It is
// declared here (rather than importing the addon package) so the core
// engine stays independent of which collaborator implements dispatch.
type TriggerDispatcher interface {
	Dispatch(ctx context.Context, userID int64, event string, payload any) error
}

// Engine wires the store, the envelope root key, and the recycle-bin window
// timing into the seven-verb executor, the push dispatcher, and the pull
// feed.
type Engine struct {
	store         store.Storer
	kek           []byte
	recycleWindow time.Duration
	sanitizer     *bluemonday.Policy
	triggers      TriggerDispatcher
}

func New(st store.Storer, cfg config.Sync) (*Engine, error) {
	kek, err := base64.StdEncoding.DecodeString(cfg.EncryptionKEK)
	if err != nil {
		return nil, fmt.Errorf("decode encryption_kek: %w", err)
	}
	if len(kek) != 32 {
		return nil, fmt.Errorf("encryption_kek must decode to 32 bytes, got %d", len(kek))
	}

	window, err := str2duration.ParseDuration(cfg.RecycleWindow)
	if err != nil {
		return nil, fmt.Errorf("parse recycle_window %q: %w", cfg.RecycleWindow, err)
	}

	return &Engine{
		store:         st,
		kek:           kek,
		recycleWindow: window,
		sanitizer:     bluemonday.StrictPolicy(),
	}, nil
}

// SetTriggers wires the cloud-triggers add-on into the push path. Optional:
// an engine with no dispatcher configured simply never fires webhooks.
func (e *Engine) SetTriggers(d TriggerDispatcher) {
	e.triggers = d
}

func (e *Engine) sanitize(s string) string {
	return e.sanitizer.Sanitize(s)
}

func now() int64 {
	return time.Now().UnixMilli()
}
