package nav

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// NAV DATE - Calendar date with a fixed DD-MM-YYYY textual form
// =============================================================================

// DateFormat is the textual form used by the price source and the API.
const DateFormat = "02-01-2006"

// StorageFormat is the ISO form persisted by SQL stores so ORDER BY sorts by date.
const StorageFormat = "2006-01-02"

// NavDate is the effective date of a NAV observation, day granularity, UTC.
type NavDate struct {
	t time.Time
}

// NewNavDate returns the normalized date for year, month, day.
func NewNavDate(year int, month time.Month, day int) NavDate {
	return NavDate{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// NavDateOf truncates t to its calendar day in t's location.
func NavDateOf(t time.Time) NavDate {
	y, m, d := t.Date()
	return NewNavDate(y, m, d)
}

// ParseNavDate parses a DD-MM-YYYY string.
func ParseNavDate(s string) (NavDate, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return NavDate{}, fmt.Errorf("invalid nav date %q want format DD-MM-YYYY: %w", s, err)
	}
	return NavDate{t: t}, nil
}

// ParseStorageDate parses the ISO form written by SQL stores.
func ParseStorageDate(s string) (NavDate, error) {
	t, err := time.Parse(StorageFormat, s)
	if err != nil {
		return NavDate{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return NavDate{t: t}, nil
}

// MustParseNavDate is like ParseNavDate but panics on error.
func MustParseNavDate(s string) NavDate {
	d, err := ParseNavDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d NavDate) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateFormat)
}

// StorageString returns the ISO form.
func (d NavDate) StorageString() string { return d.t.Format(StorageFormat) }

func (d NavDate) Time() time.Time { return d.t }
func (d NavDate) IsZero() bool { return d.t.IsZero() }
func (d NavDate) Before(o NavDate) bool { return d.t.Before(o.t) }
func (d NavDate) After(o NavDate) bool { return d.t.After(o.t) }
func (d NavDate) Equal(o NavDate) bool { return d.t.Equal(o.t) }
func (d NavDate) AddDays(n int) NavDate { return NavDate{t: d.t.AddDate(0, 0, n)} }

func (d NavDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *NavDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseNavDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var _ json.Marshaler = NavDate{}
var _ json.Unmarshaler = (*NavDate)(nil)
