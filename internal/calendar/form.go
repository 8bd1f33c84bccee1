package calendar

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Layouts of the form inputs.
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DateTimeLayout = DateLayout + "T" + TimeLayout

	// FallbackTimezone is preselected when the local zone cannot be detected.
	FallbackTimezone = "Asia/Kolkata"
)

// Form messages shown in the calendar panel.
const (
	MsgEndBeforeStart     = "Error: End must be after start. Please correct the dates/times."
	MsgParseDateTime      = "Error parsing date/time. Ensure times are HH:MM or HH:MM:SS and dates are YYYY-MM-DD."
	MsgTitleRequired      = "Error: Please provide an event title."
	MsgDateTimesRequired  = "Error: Start and end datetimes must be prepared (choose dates and times)."
	MsgEndBeforeStartForm = "Error: End must be after start. Please correct the inputs."
	MsgInvalidDateTime    = "Error validating date/time values."
)

// curatedTimezones are offered when the host has no zoneinfo database.
var curatedTimezones = []string{"UTC", "America/Los_Angeles", "Europe/London", "Asia/Kolkata", "America/New_York"}

// zoneinfoDirs are searched in order for the host's IANA database.
var zoneinfoDirs = []string{"/usr/share/zoneinfo", "/usr/share/lib/zoneinfo", "/usr/lib/locale/TZ", "/etc/zoneinfo"}

// systemTimezones lists every zone of the host database, or nil.
var systemTimezones = sync.OnceValue(func() []string {
	dirs := zoneinfoDirs
	if dir := os.Getenv("ZONEINFO"); dir != "" {
		dirs = append([]string{dir}, dirs...)
	}
	for _, dir := range dirs {
		if names := zoneNames(os.DirFS(dir)); len(names) > 0 {
			return names
		}
	}
	return nil
})

// zoneNames lists the zone files of a zoneinfo tree, sorted. The posix/ and
// right/ copies, lowercase helpers such as posixrules and non-TZif files are
// skipped.
func zoneNames(fsys fs.FS) []string {
	var names []string
	_ = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p == "posix" || p == "right" {
				return fs.SkipDir
			}
			return nil
		}
		base := path.Base(p)
		if base[0] < 'A' || base[0] > 'Z' || strings.Contains(base, ".") || !isTZif(fsys, p) {
			return nil
		}
		names = append(names, p)
		return nil
	})
	slices.Sort(names)
	return names
}

func isTZif(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return string(magic) == "TZif"
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventForm is the calendar panel input.
type EventForm struct {
	Summary     string `json:"summary" validate:"required"`
	Start       string `json:"start" validate:"required"`
	End         string `json:"end" validate:"required"`
	Description string `json:"description"`
	Timezone    string `json:"timezone"`
}

type dateTimeParts struct {
	Date string `validate:"datetime=2006-01-02"`
	Time string `validate:"datetime=15:04:05"`
}

func makeISO(date, clock string) string {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return ""
	}
	if strings.Count(clock, ":") != 2 {
		clock += ":00"
	}
	// Browsers and people type "9:30"; the Calendar API wants "09:30".
	if hour, _, _ := strings.Cut(clock, ":"); len(hour) == 1 {
		clock = "0" + clock
	}
	return date + "T" + clock
}

// wellFormed reports whether iso has exactly the YYYY-MM-DDTHH:MM:SS shape.
// time.Parse alone accepts one-digit hours.
func wellFormed(iso string) bool {
	if len(iso) != len(DateTimeLayout) {
		return false
	}
	_, err := time.Parse(DateTimeLayout, iso)
	return err == nil
}

// PrepareDateTimes combines date and time fields into naive datetimes
// (seconds appended when missing). msg is empty when both values are usable
// or one of them is still incomplete.
func PrepareDateTimes(startDate, startTime, endDate, endTime string) (start, end, msg string) {
	start = makeISO(startDate, startTime)
	end = makeISO(endDate, endTime)
	if start == "" || end == "" {
		return start, end, ""
	}

	for _, iso := range []string{start, end} {
		date, clock, _ := strings.Cut(iso, "T")
		if err := validate.Struct(dateTimeParts{Date: date, Time: clock}); err != nil || !wellFormed(iso) {
			return start, end, MsgParseDateTime
		}
	}

	s, errS := time.Parse(DateTimeLayout, start)
	e, errE := time.Parse(DateTimeLayout, end)
	if errS != nil || errE != nil {
		return start, end, MsgParseDateTime
	}
	if !e.After(s) {
		return start, end, MsgEndBeforeStart
	}
	return start, end, ""
}

// ValidateEvent checks a form before creation and returns the message to
// show, or "" when the event may be created. Ordering is compared in the
// form's timezone when it is valid, else naively.
func ValidateEvent(f EventForm) string {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "Summary" {
					return MsgTitleRequired
				}
			}
			return MsgDateTimesRequired
		}
		return MsgInvalidDateTime
	}

	if !wellFormed(f.Start) || !wellFormed(f.End) {
		return MsgInvalidDateTime
	}

	loc := time.UTC
	if validate.Var(f.Timezone, "timezone") == nil {
		if l, err := time.LoadLocation(f.Timezone); err == nil {
			loc = l
		}
	}

	s, errS := time.ParseInLocation(DateTimeLayout, f.Start, loc)
	e, errE := time.ParseInLocation(DateTimeLayout, f.End, loc)
	if errS != nil || errE != nil {
		return MsgInvalidDateTime
	}
	if !e.After(s) {
		return MsgEndBeforeStartForm
	}
	return ""
}

// Timezones returns the timezone choices (the host's zoneinfo database, or a
// short curated list without one) and the preselected default.
// preferred (DEFAULT_TIMEZONE) wins when valid; otherwise the detected local
// zone, then FallbackTimezone.
func Timezones(preferred string) (choices []string, def string) {
	choices = slices.Clone(systemTimezones())
	if len(choices) == 0 {
		choices = slices.Clone(curatedTimezones)
	}
	add := func(tz string) bool {
		if tz == "" || validate.Var(tz, "timezone") != nil {
			return false
		}
		if !slices.Contains(choices, tz) {
			choices = append(choices, tz)
		}
		return true
	}

	local := DetectLocalTimezone()
	add(local)
	switch {
	case add(preferred):
		def = preferred
	case local != "" && slices.Contains(choices, local):
		def = local
	default:
		def = FallbackTimezone
	}
	slices.Sort(choices)
	return choices, def
}

// DetectLocalTimezone returns the IANA name of the host zone, or "".
func DetectLocalTimezone() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" && tz != "Local" {
		return tz
	}
	if name := time.Local.String(); name != "Local" && name != "" {
		return name
	}
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		if tz := strings.TrimSpace(string(data)); tz != "" {
			return tz
		}
	}
	if target, err := filepath.EvalSymlinks("/etc/localtime"); err == nil {
		if _, after, ok := strings.Cut(target, "zoneinfo/"); ok {
			return after
		}
	}
	return ""
}
