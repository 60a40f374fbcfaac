package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	amountPattern = regexp.MustCompile(`(?i)(£|\$|€|\bgbp|\busd|\beur)\s?(\d{1,3}(?:[,\s]\d{3})+|\d+)(\.\d+)?\s?(k\b)?`)

	annualPattern  = regexp.MustCompile(`(?i)(\ba year\b|\bper year\b|\bannum\b|\bannual(ly)?\b|\byearly\b|\bp\.a\.|\bpa\b)`)
	hourlyPattern  = regexp.MustCompile(`(?i)(hour|\bhourly\b|\bhrs?\b|\bp/?h\b|/h\b)`)
	dailyPattern   = regexp.MustCompile(`(?i)(\bper day\b|\ba day\b|\bdaily\b|/day\b)`)
	weeklyPattern  = regexp.MustCompile(`(?i)(\bper week\b|\ba week\b|\bweekly\b|/week\b|\bpw\b)`)
	monthlyPattern = regexp.MustCompile(`(?i)(\bper month\b|\ba month\b|\bmonthly\b|/month\b|\bpcm\b)`)
)

// Period multipliers used to annualise salaries.
type Period struct {
	HoursPerWeek float64
	WeeksPerYear float64
	DaysPerWeek  float64
}

// DefaultPeriod is a 40 hour, 52 week, 5 day full-time equivalent.
var DefaultPeriod = Period{HoursPerWeek: 40, WeeksPerYear: 52, DaysPerWeek: 5}

func (p Period) withDefaults() Period {
	if p.HoursPerWeek <= 0 {
		p.HoursPerWeek = DefaultPeriod.HoursPerWeek
	}
	if p.WeeksPerYear <= 0 {
		p.WeeksPerYear = DefaultPeriod.WeeksPerYear
	}
	if p.DaysPerWeek <= 0 {
		p.DaysPerWeek = DefaultPeriod.DaysPerWeek
	}
	return p
}

// ParseSalary extracts the first currency amount from free text and
// annualises it. It returns nil when no amount can be found.
// For ranges the first (lower) bound wins.
func ParseSalary(text string, period Period) *float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	digits := strings.NewReplacer(",", "", " ", "").Replace(m[2]) + m[3]
	value, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return nil
	}
	if m[4] != "" {
		value *= 1000
	}

	p := period.withDefaults()
	switch {
	case annualPattern.MatchString(text):
	case hourlyPattern.MatchString(text):
		value *= p.HoursPerWeek * p.WeeksPerYear
	case dailyPattern.MatchString(text):
		value *= p.DaysPerWeek * p.WeeksPerYear
	case weeklyPattern.MatchString(text):
		value *= p.WeeksPerYear
	case monthlyPattern.MatchString(text):
		value *= 12
	}

	return &value
}
