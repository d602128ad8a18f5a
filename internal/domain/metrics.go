package domain

import "math"

// activityMultipliers maps activity levels to their TDEE multiplier.
var activityMultipliers = map[ActivityLevel]float64{
	ActivitySedentary:  1.2,
	ActivityLight:      1.375,
	ActivityModerate:   1.55,
	ActivityActive:     1.725,
	ActivityVeryActive: 1.9,
}

const (
	defaultActivityMultiplier = 1.2
	goalCalorieDelta          = 500
)

// Stats are the metrics derived from a profile. They are computed on read
// and frozen only inside history snapshots.
type Stats struct {
	BMI      float64 `json:"bmi"`
	BMR      int     `json:"bmr"`
	Calories int     `json:"calories"`
}

// BMI returns weight / height_m^2 rounded to one decimal place.
func BMI(weightKg, heightCm float64) (float64, error) {
	if heightCm <= 0 || math.IsNaN(heightCm) {
		return 0, invalid("height", "must be > 0")
	}
	if weightKg <= 0 || math.IsNaN(weightKg) {
		return 0, invalid("weight", "must be > 0")
	}
	m := heightCm / 100
	return math.Round(weightKg/(m*m)*10) / 10, nil
}

// BMR returns the basal metabolic rate via Mifflin-St Jeor, rounded to the
// nearest kcal. Any gender other than male uses the female constant.
func BMR(weightKg, heightCm float64, age int, gender Gender) (int, error) {
	switch {
	case weightKg <= 0 || math.IsNaN(weightKg):
		return 0, invalid("weight", "must be > 0")
	case heightCm <= 0 || math.IsNaN(heightCm):
		return 0, invalid("height", "must be > 0")
	case age <= 0:
		return 0, invalid("age", "must be > 0")
	}
	bmr := 10*weightKg + 6.25*heightCm - 5*float64(age)
	if gender == GenderMale {
		bmr += 5
	} else {
		bmr -= 161
	}
	return int(math.Round(bmr)), nil
}

// DailyCalories scales bmr by the activity multiplier (1.2 when the level is
// unknown) and applies the goal deficit or surplus.
func DailyCalories(bmr int, level ActivityLevel, goal Goal) int {
	mult, ok := activityMultipliers[level]
	if !ok {
		mult = defaultActivityMultiplier
	}
	target := float64(bmr) * mult
	switch goal {
	case GoalLoseWeight:
		target -= goalCalorieDelta
	case GoalGainWeight:
		target += goalCalorieDelta
	}
	return int(math.Round(target))
}

// ComputeStats derives BMI, BMR and target calories from the profile's
// current attributes.
func ComputeStats(p *HealthProfile) (Stats, error) {
	bmi, err := BMI(p.Weight, p.Height)
	if err != nil {
		return Stats{}, err
	}
	bmr, err := BMR(p.Weight, p.Height, p.Age, p.Gender)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		BMI:      bmi,
		BMR:      bmr,
		Calories: DailyCalories(bmr, p.ActivityLevel, p.Goal),
	}, nil
}
