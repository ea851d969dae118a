package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/abdusco/redirects/internal/redirect"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog/log"
)

// Hit is one dispatched request.
type Hit struct {
	ID        int64         `json:"id"`
	RuleID    int64         `json:"rule_id"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	HitAt     redirect.Date `json:"hit_at"`
	UserAgent string        `json:"user_agent"`
	IPAddress string        `json:"ip_address"`
}

type hitRow struct {
	ID        int64          `db:"id" goqu:"skipinsert"`
	RuleID    int64          `db:"rule_id"`
	Path      string         `db:"path"`
	Status    int            `db:"status"`
	HitAt     redirect.Date  `db:"hit_at"`
	UserAgent sql.NullString `db:"user_agent"`
	IPAddress sql.NullString `db:"ip_address"`
}

type HitsRepo struct {
	db *sql.DB
}

func NewHitsRepo(db *sql.DB) *HitsRepo {
	return &HitsRepo{db: db}
}

func (r *HitsRepo) Create(ctx context.Context, ruleID int64, path string, status int, userAgent, ipAddress string) error {
	executor := goqu.New("sqlite3", r.db)

	log.Debug().Int64("rule_id", ruleID).Str("ip", ipAddress).Msg("recording hit")

	now := redirect.Date(time.Now().UTC())
	query := executor.Insert("hits").
		Cols("rule_id", "path", "status", "hit_at", "user_agent", "ip_address").
		Vals([]any{ruleID, path, status, now, userAgent, ipAddress})

	_, err := query.Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("rule_id", ruleID).Msg("failed to record hit")
		return err
	}

	return nil
}

// Recent returns the latest hits of a rule, newest first.
func (r *HitsRepo) Recent(ctx context.Context, ruleID int64, limit uint) ([]Hit, error) {
	executor := goqu.New("sqlite3", r.db)

	query := executor.From("hits").
		Where(goqu.Ex{"rule_id": ruleID}).
		Select("id", "rule_id", "path", "status", "hit_at", "user_agent", "ip_address").
		Order(goqu.C("id").Desc()).
		Limit(limit)

	var rows []hitRow
	if err := query.ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}

	hits := make([]Hit, len(rows))
	for i, row := range rows {
		hits[i] = row.toDomain()
	}
	return hits, nil
}

// DeleteForRule drops the hit log of a deleted rule.
func (r *HitsRepo) DeleteForRule(ctx context.Context, ruleID int64) error {
	executor := goqu.New("sqlite3", r.db)

	_, err := executor.Delete("hits").Where(goqu.Ex{"rule_id": ruleID}).Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("rule_id", ruleID).Msg("failed to delete hits")
	}
	return err
}

func (r *hitRow) toDomain() Hit {
	return Hit{
		ID:        r.ID,
		RuleID:    r.RuleID,
		Path:      r.Path,
		Status:    r.Status,
		HitAt:     r.HitAt,
		UserAgent: r.UserAgent.String,
		IPAddress: r.IPAddress.String,
	}
}
