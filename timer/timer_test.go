package timer

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	var ran bool
	f := func() {
		ran = true
	}
	ts := New(20*time.Millisecond, f)
	if !ts.Running() {
		t.Errorf("Expected timer to be running but it's not")
	}
	time.Sleep(60 * time.Millisecond)
	if !ran {
		t.Errorf("Timer did not call our function")
	}
}

func TestResetTo(t *testing.T) {
	var ran bool
	f := func() {
		ran = true
	}
	ts := New(20*time.Millisecond, f)
	time.Sleep(10 * time.Millisecond)
	ts.ResetTo(40 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if ran {
		t.Errorf("Timer called our function but it shouldn't have")
	}
	time.Sleep(40 * time.Millisecond)
	if !ran {
		t.Errorf("Timer did not call our function but should have")
	}
}

func TestStop(t *testing.T) {
	var ran bool
	f := func() {
		ran = true
	}
	ts := New(20*time.Millisecond, f)
	ts.Stop()
	if ts.Running() {
		t.Errorf("Expected timer to be stopped but it's not")
	}
	time.Sleep(60 * time.Millisecond)
	if ran {
		t.Errorf("Timer called our function but it shouldn't have")
	}
}

func TestRunning(t *testing.T) {
	f := func() {}
	ts := New(20*time.Millisecond, f)
	if !ts.Running() {
		t.Errorf("Expected timer to be running but it's not")
	}
	ts.Stop()
	if ts.Running() {
		t.Errorf("Expected timer to be stopped but it's not")

	}
}
