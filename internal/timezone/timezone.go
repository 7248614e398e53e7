// Package timezone converts between UTC instants and civil date-times in IANA zones.
package timezone

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

const DefaultTimezone = "UTC"

// CivilLayout is the canonical local date-time format returned by ToLocal.
const CivilLayout = "2006-01-02T15:04:05"

// DateLayout is the civil date format used for generation ranges.
const DateLayout = "2006-01-02"

var civilLayouts = []string{
	CivilLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	DateLayout,
}

// Info describes one entry of ListTimezones.
type Info struct {
	Identifier    string `json:"identifier"`
	Name          string `json:"name"`
	Abbreviation  string `json:"abbreviation"`
	Offset        string `json:"offset"`
	OffsetSeconds int    `json:"offset_seconds"`
}

// Supported is the curated set offered to clients. Any valid IANA identifier
// is still accepted by Load.
var Supported = []string{
	"UTC",
	"America/Sao_Paulo",
	"America/Argentina/Buenos_Aires",
	"America/Mexico_City",
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
	"America/Toronto",
	"America/Bogota",
	"Europe/London",
	"Europe/Lisbon",
	"Europe/Madrid",
	"Europe/Paris",
	"Europe/Berlin",
	"Europe/Athens",
	"Europe/Moscow",
	"Africa/Lagos",
	"Africa/Johannesburg",
	"Africa/Cairo",
	"Asia/Dubai",
	"Asia/Kolkata",
	"Asia/Dhaka",
	"Asia/Bangkok",
	"Asia/Singapore",
	"Asia/Shanghai",
	"Asia/Tokyo",
	"Australia/Sydney",
	"Pacific/Auckland",
}

// Load resolves an IANA identifier. Empty and "Local" are rejected so results
// never depend on the host's zone.
func Load(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || tz == "Local" {
		return nil, apperrors.InvalidTimezone(tz, nil)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperrors.InvalidTimezone(tz, err)
	}
	return loc, nil
}

func IsValid(tz string) bool {
	_, err := Load(tz)
	return err == nil
}

// Resolve returns tz when valid, otherwise fallback (or UTC if fallback is invalid too).
// The boolean reports whether tz itself was used.
func Resolve(tz, fallback string) (string, *time.Location, bool) {
	if loc, err := Load(tz); err == nil {
		return loc.String(), loc, true
	}
	if loc, err := Load(fallback); err == nil {
		return loc.String(), loc, false
	}
	return DefaultTimezone, time.UTC, false
}

// ToLocal renders an instant as a civil date-time string in tz.
func ToLocal(instant time.Time, tz string) (string, error) {
	loc, err := Load(tz)
	if err != nil {
		return "", err
	}
	return instant.In(loc).Format(CivilLayout), nil
}

// ToInstant interprets a civil date-time string in tz and returns the UTC instant.
// Strings that already carry an offset (RFC 3339) are taken as-is.
// Civil times falling in a DST gap are normalized forward by the zone rules.
func ToInstant(civil string, tz string) (time.Time, error) {
	loc, err := Load(tz)
	if err != nil {
		return time.Time{}, err
	}
	civil = strings.TrimSpace(civil)
	if t, err := time.Parse(time.RFC3339, civil); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range civilLayouts {
		if t, err := time.ParseInLocation(layout, civil, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.BadRequest(fmt.Sprintf("invalid civil date-time %q", civil), nil)
}

// At builds the instant for a civil date and minute-of-day in loc.
func At(year int, month time.Month, day, minuteOfDay int, loc *time.Location) time.Time {
	return time.Date(year, month, day, minuteOfDay/60, minuteOfDay%60, 0, 0, loc).UTC()
}

// ParseClock parses an "HH:MM" time of day into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ListTimezones returns the supported zones with their abbreviation and offset at the given instant.
func ListTimezones(at time.Time) []Info {
	out := make([]Info, 0, len(Supported))
	for _, id := range Supported {
		loc, err := time.LoadLocation(id)
		if err != nil {
			continue
		}
		abbr, offset := at.In(loc).Zone()
		out = append(out, Info{
			Identifier:    id,
			Name:          displayName(id),
			Abbreviation:  abbr,
			Offset:        formatOffset(offset),
			OffsetSeconds: offset,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OffsetSeconds != out[j].OffsetSeconds {
			return out[i].OffsetSeconds < out[j].OffsetSeconds
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out
}

func displayName(id string) string {
	name := id
	if i := strings.LastIndex(id, "/"); i >= 0 {
		name = id[i+1:]
	}
	return strings.ReplaceAll(name, "_", " ")
}

func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d:%02d", sign, seconds/3600, (seconds%3600)/60)
}
