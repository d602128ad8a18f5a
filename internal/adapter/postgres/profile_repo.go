package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"medico/internal/domain"
)

var _ domain.ProfileRepository = (*DB)(nil)

// FindProfile loads a profile and its history, oldest snapshot first.
func (d *DB) FindProfile(ctx context.Context, userID int64) (*domain.HealthProfile, error) {
	p := domain.HealthProfile{UserID: userID}
	var plan []byte
	err := d.sql.QueryRowContext(ctx,
		`SELECT age, gender, height, weight, activity_level, water_intake, goal, last_diet_plan, revision, created_at, updated_at
		 FROM health_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.Age, &p.Gender, &p.Height, &p.Weight, &p.ActivityLevel, &p.WaterIntake, &p.Goal,
		&plan, &p.Revision, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	if len(plan) > 0 {
		p.LastDietPlan = json.RawMessage(plan)
	}

	rows, err := d.sql.QueryContext(ctx,
		"SELECT date, weight, height, age, bmi, bmr, calories FROM health_history WHERE user_id = $1 ORDER BY seq",
		userID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	p.History = []domain.HistorySnapshot{}
	for rows.Next() {
		var s domain.HistorySnapshot
		if err := rows.Scan(&s.Date, &s.Weight, &s.Height, &s.Age, &s.BMI, &s.Stats.BMR, &s.Stats.Calories); err != nil {
			return nil, err
		}
		s.Stats.BMI = s.BMI
		p.History = append(p.History, s)
	}
	return &p, rows.Err()
}

// CreateProfile inserts a new profile at revision 1.
func (d *DB) CreateProfile(ctx context.Context, p *domain.HealthProfile) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO health_profiles (user_id, age, gender, height, weight, activity_level, water_intake, goal, last_diet_plan, revision, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`,
		p.UserID, p.Age, string(p.Gender), p.Height, p.Weight, string(p.ActivityLevel), p.WaterIntake, string(p.Goal),
		nullJSON(p.LastDietPlan), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return &domain.ConflictError{Resource: "profile", Reason: "already exists"}
	}
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	if err := insertHistory(ctx, tx, p.UserID, 0, p.History); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.Revision = 1
	return nil
}

// SaveProfile updates the mutable fields under a revision check and appends
// history entries beyond those already stored. Stored snapshots are never
// rewritten.
func (d *DB) SaveProfile(ctx context.Context, p *domain.HealthProfile) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE health_profiles SET age = $1, gender = $2, height = $3, weight = $4, activity_level = $5,
		 water_intake = $6, goal = $7, last_diet_plan = $8, updated_at = $9, revision = revision + 1
		 WHERE user_id = $10 AND revision = $11`,
		p.Age, string(p.Gender), p.Height, p.Weight, string(p.ActivityLevel), p.WaterIntake, string(p.Goal),
		nullJSON(p.LastDietPlan), p.UpdatedAt.UTC(), p.UserID, p.Revision,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ConflictError{Resource: "profile", Reason: "revision changed"}
	}

	// The row lock taken by the update keeps this count stable until commit.
	var stored int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM health_history WHERE user_id = $1", p.UserID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("count history: %w", err)
	}
	if len(p.History) < stored {
		return &domain.ConflictError{Resource: "profile", Reason: "history cannot shrink"}
	}
	if err := insertHistory(ctx, tx, p.UserID, stored, p.History[stored:]); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.Revision++
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, userID int64, firstSeq int, snaps []domain.HistorySnapshot) error {
	for i, s := range snaps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO health_history (user_id, seq, date, weight, height, age, bmi, bmr, calories)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			userID, firstSeq+i, s.Date.UTC(), s.Weight, s.Height, s.Age, s.BMI, s.Stats.BMR, s.Stats.Calories,
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return nil
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
