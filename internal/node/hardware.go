package node

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxInterrupt is the highest interrupt number a SleepResult can carry.
const MaxInterrupt = 127

var ErrInvalidInterrupt = errors.New("node: interrupt number out of range")

// SleepResult is the outcome of a sleep request: WokeByTimer,
// SleepNotPossible or the number of the interrupt that woke the node.
type SleepResult int8

const (
	WokeByTimer      SleepResult = -1
	SleepNotPossible SleepResult = -2
)

func (r SleepResult) String() string {
	switch r {
	case WokeByTimer:
		return "timer"
	case SleepNotPossible:
		return "not possible"
	default:
		return fmt.Sprintf("interrupt %d", int8(r))
	}
}

// Woken reports whether r is an interrupt wake-up.
func (r SleepResult) Woken() bool { return r >= 0 }

type TriggerMode uint8

const (
	TriggerChange TriggerMode = iota
	TriggerRising
	TriggerFalling
	TriggerLow
)

// Interrupt is a wake-up source for sleep. Numbers above MaxInterrupt are
// refused.
type Interrupt struct {
	Number uint8
	Mode   TriggerMode
}

// ValidateInterrupts rejects wake-up sources whose number would collide
// with WokeByTimer or SleepNotPossible.
func ValidateInterrupts(interrupts []Interrupt) error {
	for _, irq := range interrupts {
		if irq.Number > MaxInterrupt {
			return fmt.Errorf("%w: %d", ErrInvalidInterrupt, irq.Number)
		}
	}

	return nil
}

// Hardware is the platform the node runs on.
type Hardware interface {
	Init() error
	// Sleep suspends for d, or until one of interrupts fires. A zero d with
	// interrupts sleeps until an interrupt.
	Sleep(ctx context.Context, d time.Duration, interrupts []Interrupt) (SleepResult, error)
	Reboot()
	WatchdogReset()
	UniqueID() []byte
}
