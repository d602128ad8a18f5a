package domain

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

// Gender selects the Mifflin-St Jeor constant.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ActivityLevel selects the TDEE multiplier.
type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "light"
	ActivityModerate   ActivityLevel = "moderate"
	ActivityActive     ActivityLevel = "active"
	ActivityVeryActive ActivityLevel = "very_active"
)

// Goal selects the calorie adjustment applied to maintenance calories.
type Goal string

const (
	GoalLoseWeight Goal = "lose_weight"
	GoalMaintain   Goal = "maintain"
	GoalGainWeight Goal = "gain_weight"
)

// Valid reports whether g is male or female.
func (g Gender) Valid() bool { return g == GenderMale || g == GenderFemale }

// Valid reports whether l has a multiplier.
func (l ActivityLevel) Valid() bool {
	_, ok := activityMultipliers[l]
	return ok
}

// Valid reports whether g is a known goal.
func (g Goal) Valid() bool {
	return g == GoalLoseWeight || g == GoalMaintain || g == GoalGainWeight
}

// HistorySnapshot freezes the state of a profile, and the stats it implied,
// immediately before a weight change. Snapshots are never modified.
type HistorySnapshot struct {
	Date   time.Time `json:"date"`
	Weight float64   `json:"weight"`
	Height float64   `json:"height"`
	Age    int       `json:"age"`
	BMI    float64   `json:"bmi"`
	Stats  Stats     `json:"stats"`
}

// HealthProfile is the per-user physiological profile. There is at most one
// per user. Derived stats are deliberately absent.
type HealthProfile struct {
	UserID        int64             `json:"userId"`
	Age           int               `json:"age"`
	Gender        Gender            `json:"gender"`
	Height        float64           `json:"height"`
	Weight        float64           `json:"weight"`
	ActivityLevel ActivityLevel     `json:"activityLevel"`
	WaterIntake   float64           `json:"waterIntake"`
	Goal          Goal              `json:"goal"`
	LastDietPlan  json.RawMessage   `json:"lastDietPlan"`
	History       []HistorySnapshot `json:"history"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`

	// Revision is the optimistic concurrency token. Save succeeds only when
	// the stored revision still equals this value.
	Revision int64 `json:"-"`
}

// Clone returns a deep copy so callers can mutate without aliasing
// repository-owned memory.
func (p *HealthProfile) Clone() *HealthProfile {
	c := *p
	if p.LastDietPlan != nil {
		c.LastDietPlan = append(json.RawMessage(nil), p.LastDietPlan...)
	}
	if p.History != nil {
		c.History = make([]HistorySnapshot, len(p.History))
		copy(c.History, p.History)
	}
	return &c
}

// ProfilePatch is a partial update. A nil field is absent and leaves the
// stored value alone; a non-nil field is applied even when it holds a zero
// value (so waterIntake can be reset to 0).
type ProfilePatch struct {
	Age           *int           `json:"age,omitempty"`
	Gender        *Gender        `json:"gender,omitempty"`
	Height        *float64       `json:"height,omitempty"`
	Weight        *float64       `json:"weight,omitempty"`
	ActivityLevel *ActivityLevel `json:"activityLevel,omitempty"`
	WaterIntake   *float64       `json:"waterIntake,omitempty"`
	Goal          *Goal          `json:"goal,omitempty"`
}

// Validate checks every present field.
func (p ProfilePatch) Validate() error {
	if p.Age != nil && *p.Age <= 0 {
		return invalid("age", "must be > 0")
	}
	if p.Gender != nil && !p.Gender.Valid() {
		return invalid("gender", "must be \"male\" or \"female\"")
	}
	if p.Height != nil && !positive(*p.Height) {
		return invalid("height", "must be > 0")
	}
	if p.Weight != nil && !positive(*p.Weight) {
		return invalid("weight", "must be > 0")
	}
	if p.ActivityLevel != nil && !p.ActivityLevel.Valid() {
		return invalid("activityLevel", "unknown activity level")
	}
	if p.WaterIntake != nil && (*p.WaterIntake < 0 || math.IsNaN(*p.WaterIntake)) {
		return invalid("waterIntake", "must be >= 0")
	}
	if p.Goal != nil && !p.Goal.Valid() {
		return invalid("goal", "unknown goal")
	}
	return nil
}

func positive(v float64) bool { return v > 0 && !math.IsInf(v, 0) }

// NewProfile builds a profile for userID from a patch carrying every
// required field. History starts empty.
func NewProfile(userID int64, patch ProfilePatch, now time.Time) (*HealthProfile, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	switch {
	case patch.Age == nil:
		return nil, invalid("age", "required")
	case patch.Gender == nil:
		return nil, invalid("gender", "required")
	case patch.Height == nil:
		return nil, invalid("height", "required")
	case patch.Weight == nil:
		return nil, invalid("weight", "required")
	case patch.ActivityLevel == nil:
		return nil, invalid("activityLevel", "required")
	case patch.Goal == nil:
		return nil, invalid("goal", "required")
	}
	p := &HealthProfile{
		UserID:        userID,
		Age:           *patch.Age,
		Gender:        *patch.Gender,
		Height:        *patch.Height,
		Weight:        *patch.Weight,
		ActivityLevel: *patch.ActivityLevel,
		Goal:          *patch.Goal,
		History:       []HistorySnapshot{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if patch.WaterIntake != nil {
		p.WaterIntake = *patch.WaterIntake
	}
	return p, nil
}

// Apply validates patch and merges it into p. When the patch changes the
// weight, a snapshot of the pre-update state is appended first and
// returned; otherwise the returned snapshot is nil. On error p is untouched.
func (p *HealthProfile) Apply(patch ProfilePatch, now time.Time) (*HistorySnapshot, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var snap *HistorySnapshot
	if patch.Weight != nil && *patch.Weight != p.Weight {
		s, err := p.snapshot(now)
		if err != nil {
			return nil, err
		}
		snap = &s
	}

	if patch.Age != nil {
		p.Age = *patch.Age
	}
	if patch.Gender != nil {
		p.Gender = *patch.Gender
	}
	if patch.Height != nil {
		p.Height = *patch.Height
	}
	if patch.Weight != nil {
		p.Weight = *patch.Weight
	}
	if patch.ActivityLevel != nil {
		p.ActivityLevel = *patch.ActivityLevel
	}
	if patch.WaterIntake != nil {
		p.WaterIntake = *patch.WaterIntake
	}
	if patch.Goal != nil {
		p.Goal = *patch.Goal
	}
	if snap != nil {
		p.History = append(p.History, *snap)
	}
	p.UpdatedAt = now
	return snap, nil
}

// snapshot freezes the current state. The date never goes backwards
// relative to the last snapshot, even if the clock does.
func (p *HealthProfile) snapshot(now time.Time) (HistorySnapshot, error) {
	stats, err := ComputeStats(p)
	if err != nil {
		return HistorySnapshot{}, err
	}
	if n := len(p.History); n > 0 && now.Before(p.History[n-1].Date) {
		now = p.History[n-1].Date
	}
	return HistorySnapshot{
		Date:   now,
		Weight: p.Weight,
		Height: p.Height,
		Age:    p.Age,
		BMI:    stats.BMI,
		Stats:  stats,
	}, nil
}

// ProfileRepository is the port for profile persistence.
//
// FindProfile returns nil, nil when the user has no profile. CreateProfile
// fails with ErrConflict when one already exists. SaveProfile is a
// compare-and-swap on Revision: it fails with ErrConflict if the stored
// revision moved since the profile was read, otherwise it persists the
// mutable fields, appends any history entries not yet stored, and bumps
// p.Revision.
type ProfileRepository interface {
	FindProfile(ctx context.Context, userID int64) (*HealthProfile, error)
	CreateProfile(ctx context.Context, p *HealthProfile) error
	SaveProfile(ctx context.Context, p *HealthProfile) error
}
