package main

import (
	"bytes"
	"testing"
	"time"
)

func TestParseSpan(t *testing.T) {
	day := time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC)

	iv, err := parseSpan(day, " 09:00-17:30 ")
	if err != nil {
		t.Fatalf("parseSpan: %v", err)
	}
	if want := time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC); !iv.Start.Equal(want) {
		t.Errorf("start = %v, want %v", iv.Start, want)
	}
	if want := time.Date(2025, 4, 7, 17, 30, 0, 0, time.UTC); !iv.End.Equal(want) {
		t.Errorf("end = %v, want %v", iv.End, want)
	}

	for _, bad := range []string{"", "09:00", "9am-10am", "09:00-25:00"} {
		if _, err := parseSpan(day, bad); err == nil {
			t.Errorf("parseSpan(%q) succeeded, want error", bad)
		}
	}
}

func TestComputeCommand(t *testing.T) {
	cmd := initComputeCMD()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--date", "2025-04-07",
		"--window", "09:00-12:00",
		"--event", "10:00-11:00",
		"--duration", "30",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := "09:00-09:30\n09:30-10:00\n11:15-11:45\n"
	if got := out.String(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
}
