package main

import (
	"context"
	"fmt"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/aicove/syncd/internal/addons/admin"
	"github.com/aicove/syncd/internal/addons/backup"
	"github.com/aicove/syncd/internal/addons/keys"
	"github.com/aicove/syncd/internal/addons/memorybank"
	"github.com/aicove/syncd/internal/addons/triggers"
	"github.com/aicove/syncd/internal/config"
	"github.com/aicove/syncd/internal/reaper"
	"github.com/aicove/syncd/internal/server"
	"github.com/aicove/syncd/internal/store"
	"github.com/aicove/syncd/internal/sync"
)

var (
	name    = "syncd"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	engine, err := sync.New(st, cfg.Sync)
	if err != nil {
		return fmt.Errorf("create sync engine: %w", err)
	}

	reaperInterval, err := str2duration.ParseDuration(cfg.Sync.ReaperInterval)
	if err != nil {
		return fmt.Errorf("parse sync.reaper_interval: %w", err)
	}

	operationRetention, err := str2duration.ParseDuration(cfg.Sync.OperationRetention)
	if err != nil {
		return fmt.Errorf("parse sync.operation_retention: %w", err)
	}

	rp := reaper.New(st, reaperInterval, operationRetention)
	if err := rp.Start(ctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer rp.Stop()

	if err := wireTriggers(engine, cfg); err != nil {
		return fmt.Errorf("wire triggers add-on: %w", err)
	}

	opts, err := addonOptions(cfg, st)
	if err != nil {
		return fmt.Errorf("wire add-ons: %w", err)
	}

	srv := server.New(cfg.Server, engine, rp, opts...)

	logi.Ctx(ctx).Info("syncd ready")

	return srv.Start(ctx)
}

// wireTriggers constructs the cloud-triggers add-on and registers it on the
// engine so a committed push fires any configured webhook bindings. A
// config with no bindings leaves the dispatcher inert but still wired.
func wireTriggers(engine *sync.Engine, cfg *config.Config) error {
	bindings := make([]triggers.Trigger, 0, len(cfg.Addons.Triggers.Bindings))
	for _, b := range cfg.Addons.Triggers.Bindings {
		bindings = append(bindings, triggers.Trigger{
			Event:    b.Event,
			URL:      b.URL,
			BodyTmpl: b.BodyTmpl,
			Headers:  b.Headers,
		})
	}

	dispatcher, err := triggers.NewWebhookDispatcher(cfg.Addons.Triggers.WebhookTimeout, bindings)
	if err != nil {
		return err
	}

	engine.SetTriggers(dispatcher)

	return nil
}

// addonOptions constructs the remaining external-collaborator add-ons
// (backup blob storage, the API-key quota pool, the cloud memory bank, the
// admin-overview reader) as server.Options. Backup prefers an HTTP archive
// service when configured, falling back to local-disk storage otherwise.
func addonOptions(cfg *config.Config, st store.Storer) ([]server.Option, error) {
	var opts []server.Option

	var backupStore backup.Store
	if cfg.Addons.Backup.Endpoint != "" {
		httpStore, err := backup.NewHTTPStore(cfg.Addons.Backup.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("create backup http store: %w", err)
		}
		backupStore = httpStore
	} else {
		backupStore = backup.NewLocalStore(cfg.Addons.Backup.LocalDir)
	}
	opts = append(opts, server.WithBackup(backupStore))

	opts = append(opts, server.WithKeys(keys.NewRoundRobinPool(cfg.Addons.Keys.Pool)))
	opts = append(opts, server.WithMemoryBank(memorybank.New(cfg.Addons.MemoryBank.StopwordsLang)))
	opts = append(opts, server.WithAdmin(admin.New(st)))

	return opts, nil
}
