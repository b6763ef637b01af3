package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Store     Store       `cfg:"store"`
	Server    Server      `cfg:"server"`
	Sync      Sync        `cfg:"sync"`
	Addons    Addons      `cfg:"addons"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

type Server struct {
	BasePath string `cfg:"base_path"`

	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// AdminSecret guards POST /purge-expired (the operator escape hatch for
	// the recycle-bin reaper) and the admin-overview add-on. Requests supply
	// it via the admin_key query parameter. If unset, both endpoints 403.
	AdminSecret string `cfg:"admin_secret" log:"-"`

	// BearerSigningKey validates the bearer tokens the principal collaborator
	// resolves to a user id. User registration and token issuance are out of
	// scope for the core; this key only lets the core verify tokens minted
	// elsewhere.
	BearerSigningKey string `cfg:"bearer_signing_key" log:"-"`
}

// Sync configures the core sync engine: envelope crypto and recycle-bin
// lifecycle timing.
type Sync struct {
	// EncryptionKEK is the root key protecting provider credentials at rest,
	// base64-encoded, exactly 32 bytes once decoded. Immutable after startup.
	EncryptionKEK string `cfg:"encryption_kek" log:"-"`

	// RecycleWindow is the duration between soft-delete and physical purge.
	// Accepts "7d"/"168h"-style durations; default is seven days.
	RecycleWindow string `cfg:"recycle_window" default:"168h"`

	// OperationRetention bounds how long SyncOperation idempotency rows are
	// kept; a background truncate removes rows older than this, independent
	// of the recycle-bin reaper (design note: idempotency storage growth).
	OperationRetention string `cfg:"operation_retention" default:"720h"`

	// ReaperInterval is how often the internal scheduler sweeps for expired
	// recycle-bin rows. The admin purge-expired endpoint remains available
	// as an operator escape hatch regardless of this setting.
	ReaperInterval string `cfg:"reaper_interval" default:"1h"`

	// PullPageLimit is not read by the sync engine: Pull returns up to the
	// caller's limit per resource class, or 500 rows when the caller gives
	// none, and a larger caller limit is not capped.
	PullPageLimit int `cfg:"pull_page_limit" default:"500"`
}

// Addons configures the external-collaborator surfaces that call into C2/C7
// but are not part of the core.
type Addons struct {
	Backup     AddonBackup     `cfg:"backup"`
	Keys       AddonKeys       `cfg:"keys"`
	Triggers   AddonTriggers   `cfg:"triggers"`
	MemoryBank AddonMemoryBank `cfg:"memory_bank"`
}

type AddonBackup struct {
	// Endpoint, if set, routes blob storage through an HTTP archive service
	// via klient. If empty, backups are written to LocalDir instead.
	Endpoint string `cfg:"endpoint"`
	LocalDir string `cfg:"local_dir" default:"./data/backups"`
}

type AddonKeys struct {
	// Pool is the shared provider API keys the quota pool leases round-robin.
	Pool []string `cfg:"pool" log:"-"`
}

type AddonTriggers struct {
	// WebhookTimeout bounds outbound webhook dispatch.
	WebhookTimeout time.Duration `cfg:"webhook_timeout" default:"10s"`

	// Bindings lists the event -> webhook routes fired on a committed push
	// operation. An empty list means the add-on is configured but inert.
	Bindings []TriggerBinding `cfg:"bindings"`
}

type TriggerBinding struct {
	// Event is a push op_type (spec §5), e.g. "append_message" or "fork".
	Event    string            `cfg:"event"`
	URL      string            `cfg:"url"`
	BodyTmpl string            `cfg:"body_tmpl"`
	Headers  map[string]string `cfg:"headers"`
}

type AddonMemoryBank struct {
	// StopwordsLang selects the stopword list used to pre-filter query terms
	// before Aho-Corasick matching.
	StopwordsLang string `cfg:"stopwords_lang" default:"en"`
}

type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource" default:"./data/syncd.db"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table" default:"schema_migrations"`
	Values     map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("SYNCD_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
