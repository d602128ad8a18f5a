package domain

const kgToLb = 2.2046226218

// WeightUnit is the unit a weight is displayed in. Profiles always store kg.
type WeightUnit string

const (
	UnitKg WeightUnit = "kg"
	UnitLb WeightUnit = "lb"
)

// Valid reports whether u is kg or lb.
func (u WeightUnit) Valid() bool { return u == UnitKg || u == UnitLb }

// ConvertWeight converts a weight value between kg and lb.
// Returns v unchanged if from == to or if the units are unrecognised.
func ConvertWeight(v float64, from, to WeightUnit) float64 {
	switch {
	case from == to:
		return v
	case from == UnitKg && to == UnitLb:
		return v * kgToLb
	case from == UnitLb && to == UnitKg:
		return v / kgToLb
	}
	return v
}
