// Package postgres implements store.Store over a pgx connection pool.
// Schema migrations are embedded and applied with goose.
package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"

	"github.com/hoofworks/paddock/go/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is the pgx-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects a pool to |dsn| and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	var pool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies pending embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	var db = stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	log.Info("database migrations applied")
	return nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Transact runs |fn| in one transaction, committing when it returns nil.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	var tx, err = s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err = fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) BreedingRequests() store.BreedingRequests { return breedingRepo{s.pool} }
func (s *Store) FeedingRequests() store.FeedingRequests   { return feedingReqRepo{s.pool} }
func (s *Store) TrainingRequests() store.TrainingRequests { return trainingReqRepo{s.pool} }
func (s *Store) RaceRequests() store.RaceRequests         { return raceReqRepo{s.pool} }
func (s *Store) Horses() store.Horses                     { return horsesRepo{s.pool} }
func (s *Store) Colors() store.Colors                     { return colorsRepo{s.pool} }
func (s *Store) Feedings() store.Feedings                 { return feedingsRepo{s.pool} }
func (s *Store) Trainings() store.Trainings               { return trainingsRepo{s.pool} }
func (s *Store) Races() store.Races                       { return racesRepo{s.pool} }
func (s *Store) FeedingSessions() store.FeedingSessions   { return feedSessionsRepo{s.pool} }
func (s *Store) FeedingPreferences() store.FeedingPreferences {
	return feedPrefsRepo{s.pool}
}
func (s *Store) TrainingSessions() store.TrainingSessions { return trainSessionsRepo{s.pool} }
func (s *Store) RaceRuns() store.RaceRuns                 { return raceRunsRepo{s.pool} }

// txStore exposes the same repositories bound to one open transaction.
// Nested Transact calls join it.
type txStore struct {
	tx pgx.Tx
}

var _ store.Store = (*txStore)(nil)

func (t *txStore) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, t)
}

func (t *txStore) BreedingRequests() store.BreedingRequests { return breedingRepo{t.tx} }
func (t *txStore) FeedingRequests() store.FeedingRequests   { return feedingReqRepo{t.tx} }
func (t *txStore) TrainingRequests() store.TrainingRequests { return trainingReqRepo{t.tx} }
func (t *txStore) RaceRequests() store.RaceRequests         { return raceReqRepo{t.tx} }
func (t *txStore) Horses() store.Horses                     { return horsesRepo{t.tx} }
func (t *txStore) Colors() store.Colors                     { return colorsRepo{t.tx} }
func (t *txStore) Feedings() store.Feedings                 { return feedingsRepo{t.tx} }
func (t *txStore) Trainings() store.Trainings               { return trainingsRepo{t.tx} }
func (t *txStore) Races() store.Races                       { return racesRepo{t.tx} }
func (t *txStore) FeedingSessions() store.FeedingSessions   { return feedSessionsRepo{t.tx} }
func (t *txStore) FeedingPreferences() store.FeedingPreferences {
	return feedPrefsRepo{t.tx}
}
func (t *txStore) TrainingSessions() store.TrainingSessions { return trainSessionsRepo{t.tx} }
func (t *txStore) RaceRuns() store.RaceRuns                 { return raceRunsRepo{t.tx} }
