package ivr

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/voxdialer/engine/internal/database/models"
	"github.com/voxdialer/engine/internal/telephony"
)

func TestValidateCapture(t *testing.T) {
	// day_laborable is judged against the current month, so its inputs are
	// the first weekday and the first weekend day of this month.
	now := time.Now()
	var weekdayDay, weekendDay string
	for d := 1; d <= 7; d++ {
		wd := time.Date(now.Year(), now.Month(), d, 0, 0, 0, 0, now.Location()).Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			if weekendDay == "" {
				weekendDay = strconv.Itoa(d)
			}
		} else if weekdayDay == "" {
			weekdayDay = strconv.Itoa(d)
		}
	}

	cases := []struct {
		rule   models.StepValidation
		digits string
		want   bool
	}{
		{models.ValidationNone, "9", true},
		{models.ValidationNone, "", false},
		{models.ValidationDay1To28, "28", true},
		{models.ValidationDay1To28, "29", false},
		{models.ValidationDay1To28, "0", false},
		{models.ValidationDayLaborable, weekdayDay, true},
		{models.ValidationDayLaborable, weekendDay, false},
	}
	for _, c := range cases {
		if got := validateCapture(c.rule, c.digits); got != c.want {
			t.Errorf("validateCapture(%v, %q) = %v, want %v", c.rule, c.digits, got, c.want)
		}
	}
}

func TestCommitmentDateDayOfMonth(t *testing.T) {
	date, err := commitmentDate("15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if date.Day() != 15 {
		t.Errorf("Day() = %d, want 15", date.Day())
	}
	now := time.Now()
	if date.Year() != now.Year() || date.Month() != now.Month() {
		t.Errorf("expected a date in the current month, got %v", date)
	}
}

func TestCommitmentDateInvalid(t *testing.T) {
	if _, err := commitmentDate("not-a-number"); err == nil {
		t.Fatal("expected error for non-numeric day capture")
	}
	if _, err := commitmentDate("40"); err == nil {
		t.Fatal("expected error for out-of-range day capture")
	}
}

func TestCollectDigitsSingleDigit(t *testing.T) {
	ch := make(chan telephony.Event, 2)
	ch <- telephony.Event{Type: telephony.EventChannelDtmfReceived, Digit: "3"}

	digits, timedOut := collectDigits(context.Background(), ch, models.CaptureSingleDigit, 1, time.Second, 2*time.Second)
	if timedOut || digits != "3" {
		t.Errorf("got digits=%q timedOut=%v, want 3/false", digits, timedOut)
	}
}

func TestCollectDigitsNumericMaxDigits(t *testing.T) {
	ch := make(chan telephony.Event, 4)
	ch <- telephony.Event{Type: telephony.EventChannelDtmfReceived, Digit: "1"}
	ch <- telephony.Event{Type: telephony.EventChannelDtmfReceived, Digit: "2"}

	digits, timedOut := collectDigits(context.Background(), ch, models.CaptureNumeric, 2, time.Second, time.Second)
	if timedOut || digits != "12" {
		t.Errorf("got digits=%q timedOut=%v, want 12/false", digits, timedOut)
	}
}

func TestCollectDigitsTimesOutWithNoInput(t *testing.T) {
	ch := make(chan telephony.Event)
	digits, timedOut := collectDigits(context.Background(), ch, models.CaptureSingleDigit, 1, 20*time.Millisecond, time.Second)
	if !timedOut || digits != "" {
		t.Errorf("got digits=%q timedOut=%v, want empty/true", digits, timedOut)
	}
}
