package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/store"
)

// notFound maps pgx's no-rows sentinel onto the store contract.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// requestListSQL appends the RequestQuery predicate to |base| and
// returns the completed statement with its arguments.
func requestListSQL(base string, q store.RequestQuery) (string, []any) {
	var statuses = make([]int16, len(q.Statuses))
	for i, s := range q.Statuses {
		statuses[i] = int16(s)
	}
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(" WHERE status = ANY($1)")
	var args = []any{statuses}
	if q.UpdatedBefore != nil {
		sb.WriteString(" AND updated_date < $2")
		args = append(args, *q.UpdatedBefore)
	}
	sb.WriteString(" ORDER BY created_date")
	return sb.String(), args
}

// breedingRepo

type breedingRepo struct{ q querier }

const breedingCols = `request_id, status, sire_id, dam_id, owner_id, foal_id,
	failure_reason, created_date, updated_date, processed_date`

func scanBreeding(row pgx.Row) (*model.BreedingRequest, error) {
	var req model.BreedingRequest
	var status int16
	var err = row.Scan(&req.RequestID, &status, &req.SireID, &req.DamID, &req.OwnerID,
		&req.FoalID, &req.FailureReason, &req.CreatedDate, &req.UpdatedDate, &req.ProcessedDate)
	if err != nil {
		return nil, notFound(err)
	}
	req.Status = model.RequestStatus(status)
	return &req, nil
}

func (r breedingRepo) Get(ctx context.Context, id uuid.UUID) (*model.BreedingRequest, error) {
	return scanBreeding(r.q.QueryRow(ctx,
		"SELECT "+breedingCols+" FROM breeding_requests WHERE request_id = $1", id))
}

func (r breedingRepo) Insert(ctx context.Context, req *model.BreedingRequest) error {
	var _, err = r.q.Exec(ctx, `
		INSERT INTO breeding_requests (`+breedingCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.RequestID, int16(req.Status), req.SireID, req.DamID, req.OwnerID,
		req.FoalID, req.FailureReason, req.CreatedDate, req.UpdatedDate, req.ProcessedDate)
	return err
}

func (r breedingRepo) Update(ctx context.Context, req *model.BreedingRequest) error {
	var tag, err = r.q.Exec(ctx, `
		UPDATE breeding_requests SET status = $2, foal_id = $3, failure_reason = $4,
			updated_date = $5, processed_date = $6
		WHERE request_id = $1`,
		req.RequestID, int16(req.Status), req.FoalID, req.FailureReason,
		req.UpdatedDate, req.ProcessedDate)
	if err == nil && tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return err
}

func (r breedingRepo) List(ctx context.Context, q store.RequestQuery) ([]model.BreedingRequest, error) {
	var sql, args = requestListSQL("SELECT "+breedingCols+" FROM breeding_requests", q)
	var rows, err = r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BreedingRequest
	for rows.Next() {
		var req, err = scanBreeding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// feedingReqRepo

type feedingReqRepo struct{ q querier }

const feedingReqCols = `request_id, status, horse_id, feeding_id, session_id, user_id,
	feeding_session_id, failure_reason, created_date, updated_date, processed_date`

func scanFeedingReq(row pgx.Row) (*model.FeedingRequest, error) {
	var req model.FeedingRequest
	var status, feedingID int16
	var err = row.Scan(&req.RequestID, &status, &req.HorseID, &feedingID, &req.SessionID,
		&req.UserID, &req.FeedingSessionID, &req.FailureReason,
		&req.CreatedDate, &req.UpdatedDate, &req.ProcessedDate)
	if err != nil {
		return nil, notFound(err)
	}
	req.Status = model.RequestStatus(status)
	req.FeedingID = uint8(feedingID)
	return &req, nil
}

func (r feedingReqRepo) Get(ctx context.Context, id uuid.UUID) (*model.FeedingRequest, error) {
	return scanFeedingReq(r.q.QueryRow(ctx,
		"SELECT "+feedingReqCols+" FROM feeding_requests WHERE request_id = $1", id))
}

func (r feedingReqRepo) Insert(ctx context.Context, req *model.FeedingRequest) error {
	var _, err = r.q.Exec(ctx, `
		INSERT INTO feeding_requests (`+feedingReqCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.RequestID, int16(req.Status), req.HorseID, int16(req.FeedingID), req.SessionID,
		req.UserID, req.FeedingSessionID, req.FailureReason,
		req.CreatedDate, req.UpdatedDate, req.ProcessedDate)
	return err
}

func (r feedingReqRepo) Update(ctx context.Context, req *model.FeedingRequest) error {
	var tag, err = r.q.Exec(ctx, `
		UPDATE feeding_requests SET status = $2, feeding_session_id = $3, failure_reason = $4,
			updated_date = $5, processed_date = $6
		WHERE request_id = $1`,
		req.RequestID, int16(req.Status), req.FeedingSessionID, req.FailureReason,
		req.UpdatedDate, req.ProcessedDate)
	if err == nil && tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return err
}

func (r feedingReqRepo) List(ctx context.Context, q store.RequestQuery) ([]model.FeedingRequest, error) {
	var sql, args = requestListSQL("SELECT "+feedingReqCols+" FROM feeding_requests", q)
	var rows, err = r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FeedingRequest
	for rows.Next() {
		var req, err = scanFeedingReq(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// trainingReqRepo

type trainingReqRepo struct{ q querier }

const trainingReqCols = `request_id, status, horse_id, training_id, session_id, user_id,
	training_session_id, failure_reason, created_date, updated_date, processed_date`

func scanTrainingReq(row pgx.Row) (*model.TrainingRequest, error) {
	var req model.TrainingRequest
	var status, trainingID int16
	var err = row.Scan(&req.RequestID, &status, &req.HorseID, &trainingID, &req.SessionID,
		&req.UserID, &req.TrainingSessionID, &req.FailureReason,
		&req.CreatedDate, &req.UpdatedDate, &req.ProcessedDate)
	if err != nil {
		return nil, notFound(err)
	}
	req.Status = model.RequestStatus(status)
	req.TrainingID = uint8(trainingID)
	return &req, nil
}

func (r trainingReqRepo) Get(ctx context.Context, id uuid.UUID) (*model.TrainingRequest, error) {
	return scanTrainingReq(r.q.QueryRow(ctx,
		"SELECT "+trainingReqCols+" FROM training_requests WHERE request_id = $1", id))
}

func (r trainingReqRepo) Insert(ctx context.Context, req *model.TrainingRequest) error {
	var _, err = r.q.Exec(ctx, `
		INSERT INTO training_requests (`+trainingReqCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.RequestID, int16(req.Status), req.HorseID, int16(req.TrainingID), req.SessionID,
		req.UserID, req.TrainingSessionID, req.FailureReason,
		req.CreatedDate, req.UpdatedDate, req.ProcessedDate)
	return err
}

func (r trainingReqRepo) Update(ctx context.Context, req *model.TrainingRequest) error {
	var tag, err = r.q.Exec(ctx, `
		UPDATE training_requests SET status = $2, training_session_id = $3, failure_reason = $4,
			updated_date = $5, processed_date = $6
		WHERE request_id = $1`,
		req.RequestID, int16(req.Status), req.TrainingSessionID, req.FailureReason,
		req.UpdatedDate, req.ProcessedDate)
	if err == nil && tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return err
}

func (r trainingReqRepo) List(ctx context.Context, q store.RequestQuery) ([]model.TrainingRequest, error) {
	var sql, args = requestListSQL("SELECT "+trainingReqCols+" FROM training_requests", q)
	var rows, err = r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrainingRequest
	for rows.Next() {
		var req, err = scanTrainingReq(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// raceReqRepo

type raceReqRepo struct{ q querier }

const raceReqCols = `request_id, status, race_id, horse_id, owner_id, race_run_id,
	failure_reason, created_date, updated_date, processed_date`

func scanRaceReq(row pgx.Row) (*model.RaceRequest, error) {
	var req model.RaceRequest
	var status, raceID int16
	var err = row.Scan(&req.RequestID, &status, &raceID, &req.HorseID, &req.OwnerID,
		&req.RaceRunID, &req.FailureReason, &req.CreatedDate, &req.UpdatedDate, &req.ProcessedDate)
	if err != nil {
		return nil, notFound(err)
	}
	req.Status = model.RequestStatus(status)
	req.RaceID = uint8(raceID)
	return &req, nil
}

func (r raceReqRepo) Get(ctx context.Context, id uuid.UUID) (*model.RaceRequest, error) {
	return scanRaceReq(r.q.QueryRow(ctx,
		"SELECT "+raceReqCols+" FROM race_requests WHERE request_id = $1", id))
}

func (r raceReqRepo) Insert(ctx context.Context, req *model.RaceRequest) error {
	var _, err = r.q.Exec(ctx, `
		INSERT INTO race_requests (`+raceReqCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.RequestID, int16(req.Status), int16(req.RaceID), req.HorseID, req.OwnerID,
		req.RaceRunID, req.FailureReason, req.CreatedDate, req.UpdatedDate, req.ProcessedDate)
	return err
}

func (r raceReqRepo) Update(ctx context.Context, req *model.RaceRequest) error {
	var tag, err = r.q.Exec(ctx, `
		UPDATE race_requests SET status = $2, race_run_id = $3, failure_reason = $4,
			updated_date = $5, processed_date = $6
		WHERE request_id = $1`,
		req.RequestID, int16(req.Status), req.RaceRunID, req.FailureReason,
		req.UpdatedDate, req.ProcessedDate)
	if err == nil && tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return err
}

func (r raceReqRepo) List(ctx context.Context, q store.RequestQuery) ([]model.RaceRequest, error) {
	var sql, args = requestListSQL("SELECT "+raceReqCols+" FROM race_requests", q)
	var rows, err = r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RaceRequest
	for rows.Next() {
		var req, err = scanRaceReq(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// horsesRepo

type horsesRepo struct{ q querier }

const horseCols = `id, name, owner_id, sire_id, dam_id, color_id, sex, leg_type,
	races_run, races_won, parented, trained_days, happiness,
	has_trained_since_last_race, born_at`

func scanHorse(row pgx.Row) (*model.Horse, error) {
	var h model.Horse
	var sex, leg int16
	var err = row.Scan(&h.ID, &h.Name, &h.OwnerID, &h.SireID, &h.DamID, &h.ColorID,
		&sex, &leg, &h.RacesRun, &h.RacesWon, &h.Parented, &h.TrainedDays,
		&h.Happiness, &h.HasTrainedSinceLastRace, &h.BornAt)
	if err != nil {
		return nil, notFound(err)
	}
	h.Sex = model.Sex(sex)
	h.LegType = model.LegType(leg)
	return &h, nil
}

// loadStatistics fills the Statistics of every horse in |byID|.
func (r horsesRepo) loadStatistics(ctx context.Context, byID map[uuid.UUID]*model.Horse) error {
	var ids = make([]uuid.UUID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	var rows, err = r.q.Query(ctx, `
		SELECT id, horse_id, kind, dominant_potential, recessive_potential, actual
		FROM statistics WHERE horse_id = ANY($1) ORDER BY kind`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var s model.Statistic
		var kind int16
		if err = rows.Scan(&s.ID, &s.HorseID, &kind, &s.DominantPotential,
			&s.RecessivePotential, &s.Actual); err != nil {
			return err
		}
		s.Kind = model.StatKind(kind)
		byID[s.HorseID].Statistics = append(byID[s.HorseID].Statistics, s)
	}
	return rows.Err()
}

func (r horsesRepo) Get(ctx context.Context, id uuid.UUID) (*model.Horse, error) {
	var h, err = scanHorse(r.q.QueryRow(ctx,
		"SELECT "+horseCols+" FROM horses WHERE id = $1", id))
	if err != nil {
		return nil, err
	}
	if err = r.loadStatistics(ctx, map[uuid.UUID]*model.Horse{h.ID: h}); err != nil {
		return nil, err
	}
	return h, nil
}

func (r horsesRepo) Insert(ctx context.Context, horse *model.Horse) error {
	var _, err = r.q.Exec(ctx, `
		INSERT INTO horses (`+horseCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		horse.ID, horse.Name, horse.OwnerID, horse.SireID, horse.DamID, horse.ColorID,
		int16(horse.Sex), int16(horse.LegType), horse.RacesRun, horse.RacesWon,
		horse.Parented, horse.TrainedDays, horse.Happiness,
		horse.HasTrainedSinceLastRace, horse.BornAt)
	if err != nil {
		return err
	}
	return r.upsertStatistics(ctx, horse)
}

func (r horsesRepo) Update(ctx context.Context, horse *model.Horse) error {
	var tag, err = r.q.Exec(ctx, `
		UPDATE horses SET name = $2, owner_id = $3, races_run = $4, races_won = $5,
			parented = $6, trained_days = $7, happiness = $8,
			has_trained_since_last_race = $9
		WHERE id = $1`,
		horse.ID, horse.Name, horse.OwnerID, horse.RacesRun, horse.RacesWon,
		horse.Parented, horse.TrainedDays, horse.Happiness, horse.HasTrainedSinceLastRace)
	if err != nil {
		return err
	} else if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return r.upsertStatistics(ctx, horse)
}

func (r horsesRepo) upsertStatistics(ctx context.Context, horse *model.Horse) error {
	var batch = &pgx.Batch{}
	for _, s := range horse.Statistics {
		batch.Queue(`
			INSERT INTO statistics (id, horse_id, kind, dominant_potential, recessive_potential, actual)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (horse_id, kind) DO UPDATE SET actual = EXCLUDED.actual`,
			s.ID, s.HorseID, int16(s.Kind), s.DominantPotential, s.RecessivePotential, s.Actual)
	}
	var results = r.q.SendBatch(ctx, batch)
	defer results.Close()
	for range horse.Statistics {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting statistic: %w", err)
		}
	}
	return nil
}

func (r horsesRepo) Sample(ctx context.Context, n int, exclude uuid.UUID) ([]model.Horse, error) {
	var rows, err = r.q.Query(ctx,
		"SELECT "+horseCols+" FROM horses WHERE id <> $1 ORDER BY random() LIMIT $2",
		exclude, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Horse
	for rows.Next() {
		var h, err = scanHorse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	var byID = make(map[uuid.UUID]*model.Horse, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	if err = r.loadStatistics(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// colorsRepo

type colorsRepo struct{ q querier }

func (r colorsRepo) Get(ctx context.Context, id uuid.UUID) (*model.Color, error) {
	var c model.Color
	var err = r.q.QueryRow(ctx,
		"SELECT id, name, weight, is_special FROM colors WHERE id = $1", id).
		Scan(&c.ID, &c.Name, &c.Weight, &c.IsSpecial)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r colorsRepo) List(ctx context.Context) ([]model.Color, error) {
	var rows, err = r.q.Query(ctx, "SELECT id, name, weight, is_special FROM colors ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Color
	for rows.Next() {
		var c model.Color
		if err = rows.Scan(&c.ID, &c.Name, &c.Weight, &c.IsSpecial); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Catalog repositories.

type feedingsRepo struct{ q querier }

func (r feedingsRepo) Get(ctx context.Context, id uint8) (*model.Feeding, error) {
	var f model.Feeding
	var fid, boosted int16
	var err = r.q.QueryRow(ctx, `
		SELECT id, name, happiness_boost, stat_boost, boosted_stat
		FROM feedings WHERE id = $1`, int16(id)).
		Scan(&fid, &f.Name, &f.HappinessBoost, &f.StatBoost, &boosted)
	if err != nil {
		return nil, notFound(err)
	}
	f.ID = uint8(fid)
	f.BoostedStat = model.StatKind(boosted)
	return &f, nil
}

type trainingsRepo struct{ q querier }

func (r trainingsRepo) Get(ctx context.Context, id uint8) (*model.Training, error) {
	var t model.Training
	var tid, stat int16
	var err = r.q.QueryRow(ctx, `
		SELECT id, name, trained_stat, intensity, happiness_cost
		FROM trainings WHERE id = $1`, int16(id)).
		Scan(&tid, &t.Name, &stat, &t.Intensity, &t.HappinessCost)
	if err != nil {
		return nil, notFound(err)
	}
	t.ID = uint8(tid)
	t.TrainedStat = model.StatKind(stat)
	return &t, nil
}

type racesRepo struct{ q querier }

func (r racesRepo) Get(ctx context.Context, id uint8) (*model.Race, error) {
	var race model.Race
	var rid int16
	var err = r.q.QueryRow(ctx,
		"SELECT id, name, distance, purse FROM races WHERE id = $1", int16(id)).
		Scan(&rid, &race.Name, &race.Distance, &race.Purse)
	if err != nil {
		return nil, notFound(err)
	}
	race.ID = uint8(rid)
	return &race, nil
}

// Session repositories.

type feedSessionsRepo struct{ q querier }

func (r feedSessionsRepo) Insert(ctx context.Context, session *model.FeedingSession) error {
	var _, err = r.q.Exec(ctx, `
		INSERT INTO feeding_sessions (id, session_id, horse_id, feeding_id, user_id,
			happiness_delta, stat_delta, fed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.SessionID, session.HorseID, int16(session.FeedingID),
		session.UserID, session.HappinessDelta, session.StatDelta, session.FedAt)
	return err
}

type feedPrefsRepo struct{ q querier }

func (r feedPrefsRepo) Get(ctx context.Context, horseID uuid.UUID, feedingID uint8) (*model.HorseFeedingPreference, error) {
	var pref = model.HorseFeedingPreference{HorseID: horseID, FeedingID: feedingID}
	var err = r.q.QueryRow(ctx, `
		SELECT liked FROM horse_feeding_preferences
		WHERE horse_id = $1 AND feeding_id = $2`, horseID, int16(feedingID)).
		Scan(&pref.Liked)
	if err != nil {
		return nil, notFound(err)
	}
	return &pref, nil
}

func (r feedPrefsRepo) Insert(ctx context.Context, pref *model.HorseFeedingPreference) error {
	var _, err = r.q.Exec(ctx, `
		INSERT INTO horse_feeding_preferences (horse_id, feeding_id, liked)
		VALUES ($1, $2, $3)`,
		pref.HorseID, int16(pref.FeedingID), pref.Liked)
	return err
}

type trainSessionsRepo struct{ q querier }

func (r trainSessionsRepo) Insert(ctx context.Context, session *model.TrainingSession) error {
	var _, err = r.q.Exec(ctx, `
		INSERT INTO training_sessions (id, session_id, horse_id, training_id, user_id,
			trained_stat, gain, happiness_cost, trained_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.SessionID, session.HorseID, int16(session.TrainingID),
		session.UserID, int16(session.TrainedStat), session.Gain,
		session.HappinessCost, session.TrainedAt)
	return err
}

type raceRunsRepo struct{ q querier }

func (r raceRunsRepo) Insert(ctx context.Context, run *model.RaceRun) error {
	var _, err = r.q.Exec(ctx,
		"INSERT INTO race_runs (id, race_id, run_at) VALUES ($1, $2, $3)",
		run.ID, int16(run.RaceID), run.RunAt)
	if err != nil {
		return err
	}

	var batch = &pgx.Batch{}
	for _, h := range run.Horses {
		batch.Queue(`
			INSERT INTO race_run_horses (race_run_id, horse_id, placement, finished_at_tick)
			VALUES ($1, $2, $3, $4)`,
			h.RaceRunID, h.HorseID, h.Placement, h.FinishedAtTick)
	}
	for _, t := range run.Ticks {
		batch.Queue(`
			INSERT INTO race_run_ticks (race_run_id, horse_id, tick, position)
			VALUES ($1, $2, $3, $4)`,
			t.RaceRunID, t.HorseID, t.Tick, t.Position)
	}
	var results = r.q.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < len(run.Horses)+len(run.Ticks); i++ {
		if _, err = results.Exec(); err != nil {
			return fmt.Errorf("inserting race run rows: %w", err)
		}
	}
	return nil
}
