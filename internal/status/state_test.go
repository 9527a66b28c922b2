package status

import (
	"testing"

	"github.com/pushbridge/pushbridge/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Ready},
		{Booting, Error},
		{Ready, Degraded},
		{Ready, Draining},
		{Degraded, Ready},
		{Draining, Stopped},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Stopped); err == nil {
		t.Error("Transition(BOOTING -> STOPPED) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("daemon.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Ready); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Ready {
		t.Errorf("change = %v -> %v, want BOOTING -> READY", change.From, change.To)
	}
}

// TestShutdownLifecycle simulates a clean shutdown:
// BOOTING → READY → DRAINING → STOPPED
func TestShutdownLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Ready, Draining, Stopped}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Stopped {
		t.Errorf("final state = %s, want STOPPED", m.Current())
	}
}

// TestDegradedRecovery verifies a lookup outage and recovery:
// READY → DEGRADED → READY
func TestDegradedRecovery(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	if err := m.Transition(Degraded); err != nil {
		t.Fatalf("READY -> DEGRADED: %v", err)
	}
	if err := m.Transition(Ready); err != nil {
		t.Fatalf("DEGRADED -> READY: %v", err)
	}
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:  {},
		Ready:    {Ready},
		Degraded: {Ready, Degraded},
		Draining: {Ready, Draining},
		Error:    {Error},
		Stopped:  {Ready, Draining, Stopped},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
