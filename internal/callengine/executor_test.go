package callengine

import (
	"context"
	"testing"
	"time"

	"github.com/voxdialer/engine/internal/telephony"
)

func TestWaitForOutcomeAnswers(t *testing.T) {
	e := &Executor{}
	ch := make(chan telephony.Event, 4)
	ch <- telephony.Event{Type: telephony.EventChannelStateChange, State: "Ringing"}
	ch <- telephony.Event{Type: telephony.EventChannelStateChange, State: "Up"}

	up, cause := e.waitForOutcome(context.Background(), ch, 2*time.Second)
	if !up {
		t.Fatalf("expected up=true, cause=%d", cause)
	}
}

func TestWaitForOutcomeDestroyed(t *testing.T) {
	e := &Executor{}
	ch := make(chan telephony.Event, 4)
	ch <- telephony.Event{Type: telephony.EventChannelDestroyed, CauseCode: 17}

	up, cause := e.waitForOutcome(context.Background(), ch, 2*time.Second)
	if up || cause != 17 {
		t.Fatalf("expected up=false cause=17, got up=%v cause=%d", up, cause)
	}
}

func TestWaitForOutcomeTimesOut(t *testing.T) {
	e := &Executor{}
	ch := make(chan telephony.Event)

	up, cause := e.waitForOutcome(context.Background(), ch, 20*time.Millisecond)
	if up || cause != 0 {
		t.Fatalf("expected ring timeout to report up=false cause=0, got up=%v cause=%d", up, cause)
	}
}

func TestDrainFinalCauseEmpty(t *testing.T) {
	e := &Executor{}
	ch := make(chan telephony.Event)
	if got := e.drainFinalCause(ch); got != 16 {
		t.Errorf("drainFinalCause on empty channel = %d, want 16 (we hung up)", got)
	}
}

func TestDrainFinalCauseFromDestroy(t *testing.T) {
	e := &Executor{}
	ch := make(chan telephony.Event, 1)
	ch <- telephony.Event{Type: telephony.EventChannelDestroyed, CauseCode: 17}
	if got := e.drainFinalCause(ch); got != 17 {
		t.Errorf("drainFinalCause = %d, want 17", got)
	}
}
