package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
)

// PurgeExpired is the reaper's single action (C6): physically remove rows
// whose purge_at has passed, ordered conversations (cascading blocks through
// messages) then stray messages then providers (spec §4.6).
func (p *Postgres) PurgeExpired(ctx context.Context, now int64) (int64, int64, int64, error) {
	convQuery, _, err := p.goqu.Delete(p.tableConvs).
		Where(goqu.I("purge_at").IsNotNull(), goqu.I("purge_at").Lte(now)).
		ToSQL()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("build purge conversations query: %w", err)
	}

	convRes, err := p.exec(ctx).ExecContext(ctx, convQuery)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("purge conversations: %w", err)
	}
	convCount, _ := convRes.RowsAffected()

	msgQuery, _, err := p.goqu.Delete(p.tableMessages).
		Where(goqu.I("purge_at").IsNotNull(), goqu.I("purge_at").Lte(now)).
		ToSQL()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("build purge messages query: %w", err)
	}

	msgRes, err := p.exec(ctx).ExecContext(ctx, msgQuery)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("purge messages: %w", err)
	}
	msgCount, _ := msgRes.RowsAffected()

	provQuery, _, err := p.goqu.Delete(p.tableProviders).
		Where(goqu.I("purge_at").IsNotNull(), goqu.I("purge_at").Lte(now)).
		ToSQL()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("build purge providers query: %w", err)
	}

	provRes, err := p.exec(ctx).ExecContext(ctx, provQuery)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("purge providers: %w", err)
	}
	provCount, _ := provRes.RowsAffected()

	return convCount, msgCount, provCount, nil
}

// AdminStats backs the admin-overview add-on: row counts per table.
func (p *Postgres) AdminStats(ctx context.Context) (map[string]int64, error) {
	tables := map[string]any{
		"conversations": p.tableConvs,
		"messages":      p.tableMessages,
		"providers":     p.tableProviders,
		"operations":    p.tableOps,
	}

	stats := make(map[string]int64, len(tables))
	for name, table := range tables {
		query, _, err := p.goqu.From(table).Select(goqu.COUNT("*")).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build count query for %s: %w", name, err)
		}

		var count int64
		if err := p.exec(ctx).QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}

		stats[name] = count
	}

	return stats, nil
}
