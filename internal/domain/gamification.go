package domain

import (
	"math"
	"time"
)

// LoginXP is the experience awarded for every successful authentication.
const LoginXP = 5

const xpPerLevelUnit = 50

// LevelForXP returns floor(sqrt(xp/50)) + 1. Negative xp is treated as 0.
func LevelForXP(xp int) int {
	if xp <= 0 {
		return 1
	}
	return int(math.Floor(math.Sqrt(float64(xp)/xpPerLevelUnit))) + 1
}

// LoginState is the engagement part of an Account.
type LoginState struct {
	Streak        int
	XP            int
	Level         int
	LastLoginDate time.Time
}

// ApplyLogin runs one login transition at now. Several logins on the same
// calendar day each award xp but never move the streak.
func ApplyLogin(s LoginState, now time.Time) LoginState {
	switch days := calendarDaysBetween(s.LastLoginDate, now); {
	case days == 1:
		s.Streak++
	case days > 1:
		s.Streak = 1
	}
	s.LastLoginDate = now
	s.XP += LoginXP
	s.Level = LevelForXP(s.XP)
	return s
}

// calendarDaysBetween counts whole calendar days between a and b, both taken
// in b's location. Days are compared as UTC dates so a DST shift inside the
// interval cannot produce a fractional day.
func calendarDaysBetween(a, b time.Time) int {
	loc := b.Location()
	a = a.In(loc)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(db.Sub(da).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
