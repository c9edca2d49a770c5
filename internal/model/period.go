package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Grain is the length of one development period.
type Grain string

const (
	GrainMonth   Grain = "month"
	GrainQuarter Grain = "quarter"
)

// Period is a calendar month or quarter. Ordinal counts periods since year 0,
// so the lag between two periods of the same grain is a plain subtraction.
type Period struct {
	Grain   Grain
	Ordinal int
}

// Month returns the monthly period for year/month (month is 1-12).
func Month(year, month int) Period {
	return Period{Grain: GrainMonth, Ordinal: year*12 + month - 1}
}

// Quarter returns the quarterly period for year/quarter (quarter is 1-4).
func Quarter(year, quarter int) Period {
	return Period{Grain: GrainQuarter, Ordinal: year*4 + quarter - 1}
}

// PeriodOf returns the period of grain g containing t.
func PeriodOf(g Grain, t time.Time) Period {
	if g == GrainQuarter {
		return Quarter(t.Year(), (int(t.Month())-1)/3+1)
	}
	return Month(t.Year(), int(t.Month()))
}

// ParseGrain accepts "month" or "quarter".
func ParseGrain(s string) (Grain, error) {
	switch g := Grain(strings.ToLower(strings.TrimSpace(s))); g {
	case GrainMonth, GrainQuarter:
		return g, nil
	default:
		return "", eris.Errorf("model: unknown grain %q", s)
	}
}

// ParsePeriod parses "2024-03" (month) or "2024-Q1" (quarter).
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	year, rest, ok := strings.Cut(s, "-")
	if !ok || len(year) != 4 {
		return Period{}, eris.Errorf("model: invalid period %q", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return Period{}, eris.Wrapf(err, "model: invalid period year %q", s)
	}

	if q, isQuarter := strings.CutPrefix(strings.ToUpper(rest), "Q"); isQuarter {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 4 {
			return Period{}, eris.Errorf("model: invalid quarter in period %q", s)
		}
		return Quarter(y, n), nil
	}

	m, err := strconv.Atoi(rest)
	if err != nil || m < 1 || m > 12 {
		return Period{}, eris.Errorf("model: invalid month in period %q", s)
	}
	return Month(y, m), nil
}

// MustPeriod is ParsePeriod for literals; it panics on bad input.
func MustPeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether p is the zero Period.
func (p Period) IsZero() bool {
	return p.Grain == ""
}

// Year returns the calendar year of p.
func (p Period) Year() int {
	if p.Grain == GrainQuarter {
		return p.Ordinal / 4
	}
	return p.Ordinal / 12
}

func (p Period) String() string {
	switch p.Grain {
	case GrainMonth:
		return fmt.Sprintf("%04d-%02d", p.Ordinal/12, p.Ordinal%12+1)
	case GrainQuarter:
		return fmt.Sprintf("%04d-Q%d", p.Ordinal/4, p.Ordinal%4+1)
	default:
		return ""
	}
}

// Add returns the period n periods after p.
func (p Period) Add(n int) Period {
	return Period{Grain: p.Grain, Ordinal: p.Ordinal + n}
}

// Lag returns the number of periods from origin to p. Both must share a grain.
func (p Period) Lag(origin Period) int {
	return p.Ordinal - origin.Ordinal
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool {
	return p.Ordinal < o.Ordinal
}

// After reports whether p is strictly later than o.
func (p Period) After(o Period) bool {
	return p.Ordinal > o.Ordinal
}

func (p Period) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(p.String())
}

func (p *Period) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "model: unmarshal period")
	}
	if s == "" {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText lets Period be used as a JSON map key and in yaml.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := ParsePeriod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
