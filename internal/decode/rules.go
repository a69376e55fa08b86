package decode

import "github.com/chmdznr/biosync/pkg/models"

// absent marks an unused field offset in a Rule
const absent = -1

// Rule describes how the rows of one category's export are laid out
type Rule struct {
	Category models.Category

	// MinFields is the minimum number of fields a row needs to be considered.
	MinFields int

	// Field offsets. Aux1 and Aux2 carry optional category-specific values:
	// steps distance/calories, stress label, sleep stage label.
	Time  int
	Value int
	Aux1  int
	Aux2  int

	// Aggregate folds every row of one file into a single reading.
	Aggregate bool

	// Cap bounds how many readings of one file are persisted; 0 means uncapped.
	Cap int
}

var rules = map[models.Category]Rule{
	models.HeartRateCategory: {
		Category:  models.HeartRateCategory,
		MinFields: 3,
		Time:      0,
		Value:     1,
		Aux1:      absent,
		Aux2:      absent,
		Cap:       200,
	},
	models.StepsCategory: {
		Category:  models.StepsCategory,
		MinFields: 3,
		Time:      0,
		Value:     1,
		Aux1:      2,
		Aux2:      3,
		Cap:       100,
	},
	models.StressCategory: {
		Category:  models.StressCategory,
		MinFields: 3,
		Time:      0,
		Value:     1,
		Aux1:      2,
		Aux2:      absent,
	},
	models.SleepCategory: {
		Category:  models.SleepCategory,
		MinFields: 3,
		Time:      0,
		Value:     1,
		Aux1:      2,
		Aux2:      absent,
		Aggregate: true,
	},
}

// RuleFor returns the rule of a category
func RuleFor(c models.Category) (Rule, bool) {
	r, ok := rules[c]
	return r, ok
}

// Capped keeps the last n readings (the most recent rows of an append-only
// export). n <= 0 returns readings unchanged.
func Capped(readings []models.Reading, n int) []models.Reading {
	if n <= 0 || len(readings) <= n {
		return readings
	}
	return readings[len(readings)-n:]
}
