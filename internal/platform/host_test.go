package platform

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skobkin/sensornet/internal/logging"
	"github.com/skobkin/sensornet/internal/node"
)

func newTestHost(t *testing.T, opts HostOptions) *Host {
	t.Helper()
	if opts.Seed == "" {
		opts.Seed = "test-host"
	}
	opts.Logger = logging.Discard()
	h := NewHost(opts)
	if err := h.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	return h
}

func TestHost_SleepWakesByTimer(t *testing.T) {
	h := newTestHost(t, HostOptions{})
	start := time.Now()
	res, err := h.Sleep(context.Background(), 20*time.Millisecond, nil)
	if err != nil || res != node.WokeByTimer {
		t.Fatalf("expected timer wake-up, got %s %v", res, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("woke too early")
	}
}

func TestHost_SleepWakesByInterrupt(t *testing.T) {
	h := newTestHost(t, HostOptions{})
	done := make(chan node.SleepResult, 1)
	go func() {
		res, _ := h.Sleep(context.Background(), 0, []node.Interrupt{{Number: 1}, {Number: 3, Mode: node.TriggerRising}})
		done <- res
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !h.Trigger(3) {
		if time.Now().After(deadline) {
			t.Fatalf("sleep never armed interrupt 3")
		}
		if h.Trigger(2) {
			t.Fatalf("unarmed interrupt woke the host")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case res := <-done:
		if res != 3 {
			t.Fatalf("expected interrupt 3, got %s", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sleep did not return")
	}
	if h.Trigger(3) {
		t.Fatalf("trigger after wake-up must be ignored")
	}
}

func TestHost_SleepRejectsInterruptsBeyondResultRange(t *testing.T) {
	h := newTestHost(t, HostOptions{})
	for _, num := range []uint8{node.MaxInterrupt + 1, 254, 255} {
		res, err := h.Sleep(context.Background(), time.Minute, []node.Interrupt{{Number: num}})
		if res != node.SleepNotPossible || !errors.Is(err, node.ErrInvalidInterrupt) {
			t.Fatalf("interrupt %d: got %s %v", num, res, err)
		}
		if h.Trigger(num) {
			t.Fatalf("interrupt %d armed after refusal", num)
		}
	}

	done := make(chan node.SleepResult, 1)
	go func() {
		res, _ := h.Sleep(context.Background(), time.Minute, []node.Interrupt{{Number: node.MaxInterrupt}})
		done <- res
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !h.Trigger(node.MaxInterrupt) {
		if time.Now().After(deadline) {
			t.Fatalf("sleep never armed interrupt %d", node.MaxInterrupt)
		}
		time.Sleep(time.Millisecond)
	}
	if res := <-done; res != node.MaxInterrupt || !res.Woken() {
		t.Fatalf("expected interrupt %d, got %s", node.MaxInterrupt, res)
	}
}

func TestHost_SleepCanceled(t *testing.T) {
	h := newTestHost(t, HostOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.Sleep(ctx, time.Hour, nil)
	if res != node.SleepNotPossible || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %s %v", res, err)
	}
}

func TestHost_UniqueIDIsStable(t *testing.T) {
	a := newTestHost(t, HostOptions{Seed: "machine-a"})
	b := newTestHost(t, HostOptions{Seed: "machine-a"})
	c := newTestHost(t, HostOptions{Seed: "machine-b"})

	if len(a.UniqueID()) != 16 {
		t.Fatalf("expected 16 byte id, got %d", len(a.UniqueID()))
	}
	if !bytes.Equal(a.UniqueID(), b.UniqueID()) {
		t.Fatalf("same seed must give the same id")
	}
	if bytes.Equal(a.UniqueID(), c.UniqueID()) {
		t.Fatalf("different seeds must give different ids")
	}
	if NewHost(HostOptions{Logger: logging.Discard()}).UniqueID() != nil {
		t.Fatalf("id must be nil before init")
	}
}

func TestHost_RebootAndWatchdog(t *testing.T) {
	reboots := 0
	h := newTestHost(t, HostOptions{OnReboot: func() { reboots++ }})
	if !h.LastWatchdogReset().IsZero() {
		t.Fatalf("watchdog should start untouched")
	}
	h.WatchdogReset()
	if h.LastWatchdogReset().IsZero() {
		t.Fatalf("watchdog reset not recorded")
	}
	h.Reboot()
	if reboots != 1 {
		t.Fatalf("expected reboot hook to run once, got %d", reboots)
	}
}
