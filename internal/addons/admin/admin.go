// Package admin implements the admin-overview add-on: aggregate row counts
// across every user's data, for operator dashboards. It never decides who
// may call it — that gate lives on the admin_key check in the transport
// layer, the same way the recycle-bin reaper's purge-expired escape hatch
// is gated.
package admin

import "context"

// Stats reports aggregate row counts per resource class.
type Stats map[string]int64

// StatsSource is anything that can produce aggregate row counts; the core
// store satisfies it directly.
type StatsSource interface {
	AdminStats(ctx context.Context) (map[string]int64, error)
}

// Overview wraps a StatsSource with the admin-overview add-on's shape.
type Overview struct {
	source StatsSource
}

func New(source StatsSource) *Overview {
	return &Overview{source: source}
}

func (o *Overview) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.source.AdminStats(ctx)
	if err != nil {
		return nil, err
	}

	return Stats(counts), nil
}
