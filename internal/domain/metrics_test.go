package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medico/internal/domain"
)

func TestBMI(t *testing.T) {
	tests := []struct {
		name           string
		weight, height float64
		want           float64
	}{
		{"reference", 70, 175, 22.9},
		{"rounds down", 80, 180, 24.7},
		{"tall and light", 60, 200, 15.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := domain.BMI(tc.weight, tc.height)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestBMI_RejectsNonPositiveInputs(t *testing.T) {
	for _, h := range []float64{0, -175} {
		_, err := domain.BMI(70, h)
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve), "height %v", h)
		assert.Equal(t, "height", ve.Field)
	}
	_, err := domain.BMI(0, 175)
	assert.True(t, domain.IsValidation(err))
}

func TestBMR(t *testing.T) {
	tests := []struct {
		name   string
		age    int
		gender domain.Gender
		want   int
	}{
		{"male 25", 25, domain.GenderMale, 1674},
		{"female 25", 25, domain.GenderFemale, 1508},
		{"male 15", 15, domain.GenderMale, 1724},
		{"female 15", 15, domain.GenderFemale, 1558},
		{"unknown gender uses female constant", 25, domain.Gender("other"), 1508},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := domain.BMR(70, 175, tc.age, tc.gender)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBMR_RejectsNonPositiveInputs(t *testing.T) {
	tests := []struct {
		name           string
		weight, height float64
		age            int
		field          string
	}{
		{"zero weight", 0, 175, 25, "weight"},
		{"negative weight", -70, 175, 25, "weight"},
		{"zero height", 70, 0, 25, "height"},
		{"zero age", 70, 175, 0, "age"},
		{"negative age", 70, 175, -3, "age"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := domain.BMR(tc.weight, tc.height, tc.age, domain.GenderMale)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
			assert.Zero(t, got)
		})
	}
}

func TestDailyCalories(t *testing.T) {
	tests := []struct {
		name  string
		bmr   int
		level domain.ActivityLevel
		goal  domain.Goal
		want  int
	}{
		{"moderate lose", 1724, domain.ActivityModerate, domain.GoalLoseWeight, 2172},
		{"sedentary maintain", 1500, domain.ActivitySedentary, domain.GoalMaintain, 1800},
		{"light gain", 1600, domain.ActivityLight, domain.GoalGainWeight, 2700},
		{"active maintain", 1600, domain.ActivityActive, domain.GoalMaintain, 2760},
		{"very active lose", 2000, domain.ActivityVeryActive, domain.GoalLoseWeight, 3300},
		{"unknown level defaults to sedentary", 1500, domain.ActivityLevel("couch"), domain.GoalMaintain, 1800},
		{"unknown goal has no adjustment", 1500, domain.ActivitySedentary, domain.Goal("bulk"), 1800},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.DailyCalories(tc.bmr, tc.level, tc.goal))
		})
	}
}

func TestComputeStats(t *testing.T) {
	p := &domain.HealthProfile{
		Age: 15, Gender: domain.GenderMale, Height: 175, Weight: 70,
		ActivityLevel: domain.ActivityModerate, Goal: domain.GoalLoseWeight,
	}
	stats, err := domain.ComputeStats(p)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{BMI: 22.9, BMR: 1724, Calories: 2172}, stats)

	p.Height = 0
	_, err = domain.ComputeStats(p)
	assert.True(t, domain.IsValidation(err))
}
