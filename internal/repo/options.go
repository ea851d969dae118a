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

const (
	RedirectsOption = "redirects"
	SettingsOption  = "settings"
)

type optionRow struct {
	Value   string `db:"value"`
	Version int64  `db:"version"`
}

// OptionsRepo stores named blobs in the options table. Every write bumps
// the row version and only succeeds against the version the caller read.
type OptionsRepo struct {
	db *sql.DB
}

func NewOptionsRepo(db *sql.DB) *OptionsRepo {
	return &OptionsRepo{db: db}
}

func (r *OptionsRepo) Load(ctx context.Context, name string) ([]byte, int64, error) {
	executor := goqu.New("sqlite3", r.db)

	query := executor.From("options").Where(goqu.Ex{"name": name}).Select("value", "version")

	var row optionRow
	found, err := query.ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Str("option", name).Msg("failed to load option")
		return nil, 0, err
	}

	if !found {
		return nil, 0, nil
	}

	return []byte(row.Value), row.Version, nil
}

func (r *OptionsRepo) Save(ctx context.Context, name string, value []byte, version int64) error {
	executor := goqu.New("sqlite3", r.db)
	now := redirect.Date(time.Now().UTC())

	var (
		result sql.Result
		err    error
	)
	if version == 0 {
		result, err = executor.Insert("options").
			Rows(goqu.Record{"name": name, "value": string(value), "version": 1, "updated_at": now}).
			OnConflict(goqu.DoNothing()).
			Executor().ExecContext(ctx)
	} else {
		result, err = executor.Update("options").
			Set(goqu.Record{"value": string(value), "version": goqu.L("version + 1"), "updated_at": now}).
			Where(goqu.Ex{"name": name, "version": version}).
			Executor().ExecContext(ctx)
	}
	if err != nil {
		log.Error().Err(err).Str("option", name).Msg("failed to save option")
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		log.Debug().Str("option", name).Int64("version", version).Msg("option version changed since read")
		return redirect.ErrVersionConflict
	}

	log.Debug().Str("option", name).Int64("version", version+1).Msg("option saved")
	return nil
}

// Slot binds the repo to one option name.
func (r *OptionsRepo) Slot(name string) redirect.Slot {
	return &optionSlot{repo: r, name: name}
}

type optionSlot struct {
	repo *OptionsRepo
	name string
}

func (s *optionSlot) Load(ctx context.Context) ([]byte, int64, error) {
	return s.repo.Load(ctx, s.name)
}

func (s *optionSlot) Save(ctx context.Context, value []byte, version int64) error {
	return s.repo.Save(ctx, s.name, value, version)
}
