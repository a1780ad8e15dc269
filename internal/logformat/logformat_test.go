package logformat

import (
	"testing"
	"time"
)

func TestRunCompleted(t *testing.T) {
	tests := []struct {
		line string
		date string
	}{
		{"1/2/2015,10:11:12.345,1,2,3,Processing completed.  Run has finished.", "1/2/2015,10:11:12"},
		{"12/31/2014,23:59:59.000,10,20,30,Procesing completed. Run has finished.", "12/31/2014,23:59:59"},
		{"12/31/2014,23:59:59.000,10,20,30,Copying logs", ""},
	}
	for _, tt := range tests {
		m := RunCompleted.FindStringSubmatch(tt.line)
		got := ""
		if m != nil {
			got = m[1]
		}
		if got != tt.date {
			t.Errorf("RunCompleted(%q) = %q, want %q", tt.line, got, tt.date)
		}
	}
}

func TestEndImaging(t *testing.T) {
	re := EndImaging(300)
	m := re.FindStringSubmatch("01/02/2015\t10:11:12.345\tA\t300\tEnd Imaging")
	if m == nil {
		t.Fatal("Expected match for cycle 300")
	}
	if JoinDate(m[1], m[2]) != "01/02/2015,10:11:12" {
		t.Errorf("Unexpected date %s", JoinDate(m[1], m[2]))
	}
	if re.MatchString("01/02/2015 10:11:12.345 A 30 End Imaging") {
		t.Error("Cycle 30 must not match cycle 300")
	}
	if re.MatchString("01/02/2015 10:11:12.345 A 300 Start Imaging") {
		t.Error("Start Imaging must not match")
	}
}

func TestEventsAndRTAComplete(t *testing.T) {
	m := EventsLine.FindStringSubmatch("Info  3/15/2015 9:05:01.123 Run finished")
	if m == nil || JoinDate(m[1], m[2]) != "3/15/2015,9:05:01" {
		t.Errorf("EventsLine match = %v", m)
	}
	m = RTACompleteLine.FindStringSubmatch("3/15/2015,9:5:1.123,Illumina RTA 1.18.54")
	if m == nil || JoinDate(m[1], m[2]) != "3/15/2015,9:5:1" {
		t.Errorf("RTACompleteLine match = %v", m)
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("1/2/2015,7:08:09")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	want := time.Date(2015, 1, 2, 7, 8, 9, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if _, err := ParseDate("2015-01-02 07:08:09"); err == nil {
		t.Error("Expected parse error for ISO date")
	}
}

func TestStartDate(t *testing.T) {
	tests := []struct {
		name  string
		date  string
		found bool
	}{
		{"150101_INSTR_0001_AAAA", "150101", true},
		{"150101_M00123_0042_000000000-A1B2C", "150101", true},
		{"150101_INSTR_0001_A+B", "150101", true},
		{"15010_INSTR_0001_AAAA", "", false},
		{"not_a_run", "", false},
		{"150101_INSTR_0001_AAAA/extra", "", false},
	}
	for _, tt := range tests {
		got, ok := StartDate(tt.name)
		if ok != tt.found || got != tt.date {
			t.Errorf("StartDate(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.date, tt.found)
		}
	}
}

func TestRunNameFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/data/runs/150101_INSTR_0001_AAAA/Run.completed", "150101_INSTR_0001_AAAA", true},
		{"/data/runs/150101_INSTR_0001_AAAA", "150101_INSTR_0001_AAAA", true},
		{"/data/runs/150101_INSTR_0001_AAAA/Data/reports/Status.xml", "150101_INSTR_0001_AAAA", true},
		{"/data/150101_M01234_0001_000000000-ABCDE/Run.completed", "150101_M01234_0001_000000000-ABCDE", true},
		{"/data/runs/misc/Run.completed", "", false},
	}
	for _, tt := range tests {
		got, ok := RunNameFromPath(tt.path)
		if ok != tt.ok || got != tt.want {
			t.Errorf("RunNameFromPath(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}
