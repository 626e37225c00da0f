package match

var gradeThresholds = []struct {
	min   int
	grade string
}{
	{1010000, "INF+"},
	{1000000, "INF"},
	{990000, "AAA+"},
	{980000, "AAA"},
	{970000, "AA+"},
	{950000, "AA"},
	{930000, "A+"},
	{900000, "A"},
	{850000, "B"},
	{800000, "C"},
}

// Grade maps a score to its letter grade.
func Grade(score int) string {
	for _, t := range gradeThresholds {
		if score >= t.min {
			return t.grade
		}
	}
	return "D"
}
