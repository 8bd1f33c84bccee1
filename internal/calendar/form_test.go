package calendar

import (
	"slices"
	"testing"
	"testing/fstest"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
)

func TestPrepareDateTimes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		sd, st, ed, et         string
		wantStart, wantEnd     string
		wantMsg                string
	}{
		{"adds seconds", "2026-10-20", "09:30", "2026-10-20", "10:00", "2026-10-20T09:30:00", "2026-10-20T10:00:00", ""},
		{"keeps seconds", "2026-10-20", "09:30:15", "2026-10-21", "09:30:15", "2026-10-20T09:30:15", "2026-10-21T09:30:15", ""},
		{"incomplete", "2026-10-20", "", "2026-10-20", "10:00", "", "2026-10-20T10:00:00", ""},
		{"end before start", "2026-10-20", "11:00", "2026-10-20", "10:00", "2026-10-20T11:00:00", "2026-10-20T10:00:00", MsgEndBeforeStart},
		{"equal", "2026-10-20", "10:00", "2026-10-20", "10:00:00", "2026-10-20T10:00:00", "2026-10-20T10:00:00", MsgEndBeforeStart},
		{"bad date", "20/10/2026", "10:00", "2026-10-20", "11:00", "20/10/2026T10:00:00", "2026-10-20T11:00:00", MsgParseDateTime},
		{"bad time", "2026-10-20", "10h", "2026-10-20", "11:00", "2026-10-20T10h:00", "2026-10-20T11:00:00", MsgParseDateTime},
		{"pads one-digit hour", "2026-10-20", "9:30", "2026-10-20", "10:00", "2026-10-20T09:30:00", "2026-10-20T10:00:00", ""},
		{"one-digit minute", "2026-10-20", "09:5", "2026-10-20", "10:00", "2026-10-20T09:5:00", "2026-10-20T10:00:00", MsgParseDateTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			start, end, msg := PrepareDateTimes(tt.sd, tt.st, tt.ed, tt.et)
			if start != tt.wantStart || end != tt.wantEnd || msg != tt.wantMsg {
				t.Fatalf("PrepareDateTimes = (%q, %q, %q), want (%q, %q, %q)",
					start, end, msg, tt.wantStart, tt.wantEnd, tt.wantMsg)
			}
		})
	}
}

func TestValidateEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		form EventForm
		want string
	}{
		{"ok", EventForm{Summary: "Dentist", Start: "2026-10-20T09:00:00", End: "2026-10-20T10:00:00", Timezone: "Asia/Kolkata"}, ""},
		{"no title", EventForm{Start: "2026-10-20T09:00:00", End: "2026-10-20T10:00:00"}, MsgTitleRequired},
		{"no datetimes", EventForm{Summary: "x"}, MsgDateTimesRequired},
		{"reversed", EventForm{Summary: "x", Start: "2026-10-20T10:00:00", End: "2026-10-20T09:00:00", Timezone: "UTC"}, MsgEndBeforeStartForm},
		{"bad timezone falls back", EventForm{Summary: "x", Start: "2026-10-20T09:00:00", End: "2026-10-20T10:00:00", Timezone: "Mars/Olympus"}, ""},
		{"garbage", EventForm{Summary: "x", Start: "soon", End: "later"}, MsgInvalidDateTime},
		{"one-digit hour", EventForm{Summary: "x", Start: "2026-10-20T9:00:00", End: "2026-10-20T10:00:00", Timezone: "UTC"}, MsgInvalidDateTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ValidateEvent(tt.form); got != tt.want {
				t.Fatalf("ValidateEvent = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTimezones(t *testing.T) {
	t.Parallel()

	choices, def := Timezones("Europe/Paris")
	if def != "Europe/Paris" || !slices.Contains(choices, "Europe/Paris") {
		t.Fatalf("preferred zone not selected: %q in %v", def, choices)
	}
	base := systemTimezones()
	if len(base) == 0 {
		base = curatedTimezones
	}
	for _, tz := range base {
		if !slices.Contains(choices, tz) {
			t.Errorf("missing zone %q", tz)
		}
	}
	if !slices.IsSorted(choices) {
		t.Errorf("choices not sorted: %v", choices)
	}

	_, def = Timezones("Not/AZone")
	if def == "Not/AZone" || def == "" {
		t.Fatalf("invalid preferred zone must not be the default, got %q", def)
	}
}

func TestZoneNames(t *testing.T) {
	t.Parallel()

	tzif := &fstest.MapFile{Data: []byte("TZif2\x00\x00")}
	fsys := fstest.MapFS{
		"UTC":                     tzif,
		"Europe/Paris":            tzif,
		"America/Argentina/Salta": tzif,
		"posix/Europe/Paris":      tzif,
		"right/UTC":               tzif,
		"posixrules":              tzif,
		"zone.tab":                {Data: []byte("# tz zone descriptions")},
		"README":                  {Data: []byte("not a zone")},
	}

	want := []string{"America/Argentina/Salta", "Europe/Paris", "UTC"}
	if diff := cmp.Diff(want, zoneNames(fsys)); diff != "" {
		t.Errorf("zone names mismatch (-want +got):\n%s", diff)
	}
	if got := zoneNames(fstest.MapFS{}); len(got) != 0 {
		t.Errorf("expected no zones in an empty tree, got %v", got)
	}
}
