// Package reservation holds the immutable reservation request and the
// loaders that build it, together with credentials and session cookies,
// from files and environment values.
package reservation

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/tablebook/internal/failure"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is one reservation to create. It is immutable once built.
type Request struct {
	date      time.Time
	clock     time.Duration
	guests    int
	firstName string
	lastName  string
	phone     string
	notes     string
	table     string
	duration  string
	source    string
	occasion  string
}

func (r *Request) Guests() int       { return r.guests }
func (r *Request) FirstName() string { return r.firstName }
func (r *Request) LastName() string  { return r.lastName }
func (r *Request) Phone() string     { return r.phone }
func (r *Request) Notes() string     { return r.notes }
func (r *Request) Table() string     { return r.table }

// Duration, Source and Occasion are per-request overrides; empty means the
// configured default applies.
func (r *Request) Duration() string { return r.duration }
func (r *Request) Source() string   { return r.source }
func (r *Request) Occasion() string { return r.occasion }

// Date returns the calendar day formatted as YYYY-MM-DD.
func (r *Request) Date() string { return r.date.Format(time.DateOnly) }

// Day returns the day of the month, as a date picker labels it.
func (r *Request) Day() string { return strconv.Itoa(r.date.Day()) }

// Time returns the time of day formatted as HH:MM.
func (r *Request) Time() string {
	return fmt.Sprintf("%02d:%02d", int(r.clock.Hours()), int(r.clock.Minutes())%60)
}

// Start is the instant the reservation begins, in the date's location.
func (r *Request) Start() time.Time { return r.date.Add(r.clock) }

// FullName is the party name as given.
func (r *Request) FullName() string {
	if r.firstName == r.lastName {
		return r.firstName
	}
	return r.firstName + " " + r.lastName
}

// payload is the JSON shape of a request. Several keys have aliases used by
// older producers.
type payload struct {
	Date     string          `json:"date"`
	Time     string          `json:"time"`
	Guests   jsoniter.Number `json:"guests"`
	People   jsoniter.Number `json:"people"`
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	Notes    string          `json:"notes"`
	Note     string          `json:"note"`
	Table    string          `json:"table"`
	Duration string          `json:"duration"`
	Source   string          `json:"source"`
	Occasion string          `json:"occasion"`
}

// Parse builds a Request from its JSON form. Every problem is reported as a
// configuration error.
func Parse(data []byte) (*Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, failure.Newf(failure.KindConfiguration, "reservation data is empty")
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, failure.Newf(failure.KindConfiguration, "reservation data is not valid JSON: %w", err)
	}
	return p.build()
}

// Load reads a request from the JSON file at path.
func Load(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Newf(failure.KindConfiguration, "failed to read reservation file '%s': %w", path, err)
	}
	return Parse(data)
}

func (p payload) build() (*Request, error) {
	var missing []string
	req := &Request{
		phone:    strings.TrimSpace(p.Phone),
		table:    strings.TrimSpace(p.Table),
		notes:    strings.TrimSpace(firstNonEmpty(p.Notes, p.Note)),
		duration: strings.TrimSpace(p.Duration),
		source:   strings.TrimSpace(p.Source),
		occasion: strings.TrimSpace(p.Occasion),
	}

	if strings.TrimSpace(p.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(p.Time) == "" {
		missing = append(missing, "time")
	}
	guests := firstNonEmpty(p.Guests.String(), p.People.String())
	name := strings.TrimSpace(p.Name)
	if req.table == "" {
		if guests == "" {
			missing = append(missing, "guests")
		}
		if name == "" {
			missing = append(missing, "name")
		}
		if req.phone == "" {
			missing = append(missing, "phone")
		}
	}
	if len(missing) > 0 {
		return nil, failure.Newf(failure.KindConfiguration, "reservation data is missing required keys: %s", strings.Join(missing, ", "))
	}

	var err error
	if req.date, req.clock, err = parseInstant(p.Date, p.Time); err != nil {
		return nil, failure.New(failure.KindConfiguration, "", err)
	}

	if guests != "" {
		n, err := strconv.Atoi(guests)
		if err != nil || n <= 0 {
			return nil, failure.Newf(failure.KindConfiguration, "guest count must be a positive integer, got %q", guests)
		}
		req.guests = n
	}
	if name != "" {
		req.firstName, req.lastName = SplitName(name)
	}
	return req, nil
}

// parseInstant accepts a YYYY-MM-DD or RFC 3339 date, and a HH:MM,
// HH:MM:SS or RFC 3339 time. An RFC 3339 time carries its own clock even
// when the date key holds only a day.
func parseInstant(date, clock string) (time.Time, time.Duration, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)

	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		ts, tsErr := time.Parse(time.RFC3339, date)
		if tsErr != nil {
			return time.Time{}, 0, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
		}
		day = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	}

	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, clock); err == nil {
			return day, time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
		}
	}
	if ts, err := time.Parse(time.RFC3339, clock); err == nil {
		return day, time.Duration(ts.Hour())*time.Hour + time.Duration(ts.Minute())*time.Minute, nil
	}
	return time.Time{}, 0, fmt.Errorf("invalid time %q: expected HH:MM", clock)
}

// SplitName splits a party name into first and last name. The first token
// is the first name; a single-token name is used for both.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	first = parts[0]
	last = strings.Join(parts[1:], " ")
	if last == "" {
		last = first
	}
	return first, last
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
