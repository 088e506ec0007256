package platform

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/sensornet/internal/node"
)

// machineIDPaths are tried in order for a stable host identity.
var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// namespaceSensornet scopes derived unique ids to this application.
var namespaceSensornet = uuid.MustParse("5d0c7f3e-8a43-4b7e-9c55-3a1f0f6f2b11")

type HostOptions struct {
	// Seed overrides the machine id as the source of UniqueID.
	Seed string
	// OnReboot runs when the node asks for a reboot. The host cannot reset
	// itself, so the caller decides whether to restart the node.
	OnReboot func()
	Logger   *slog.Logger
}

// Host runs a node on a general purpose machine. Sleep is a timed wait and
// interrupts are raised in software through Trigger.
type Host struct {
	onReboot func()
	logger   *slog.Logger
	seed     string

	mu       sync.Mutex
	id       uuid.UUID
	wake     chan uint8
	armed    map[uint8]struct{}
	watchdog time.Time
}

var _ node.Hardware = (*Host)(nil)

func NewHost(opts HostOptions) *Host {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Host{
		onReboot: opts.OnReboot,
		logger:   opts.Logger.With("component", "host"),
		seed:     opts.Seed,
	}
}

// Init derives the unique id.
func (h *Host) Init() error {
	seed := h.seed
	if seed == "" {
		seed = readMachineID()
	}
	if seed == "" {
		host, err := os.Hostname()
		if err != nil {
			return errors.New("host: no machine id or hostname available")
		}
		seed = host
	}

	h.mu.Lock()
	h.id = uuid.NewSHA1(namespaceSensornet, []byte(seed))
	h.mu.Unlock()
	h.logger.Debug("host ready", "unique_id", h.id.String())

	return nil
}

func readMachineID() string {
	for _, path := range machineIDPaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id
		}
	}

	return ""
}

// Sleep blocks for d or until one of interrupts is triggered. With d zero
// only an interrupt wakes it.
func (h *Host) Sleep(ctx context.Context, d time.Duration, interrupts []node.Interrupt) (node.SleepResult, error) {
	if err := node.ValidateInterrupts(interrupts); err != nil {
		return node.SleepNotPossible, err
	}
	wake := make(chan uint8, 1)
	armed := make(map[uint8]struct{}, len(interrupts))
	for _, irq := range interrupts {
		armed[irq.Number] = struct{}{}
	}

	h.mu.Lock()
	h.wake = wake
	h.armed = armed
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.wake = nil
		h.armed = nil
		h.mu.Unlock()
	}()

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return node.SleepNotPossible, ctx.Err()
	case <-timeout:
		return node.WokeByTimer, nil
	case num := <-wake:
		// #nosec G115 -- armed numbers are at most node.MaxInterrupt.
		return node.SleepResult(num), nil
	}
}

// Trigger raises interrupt num. It reports whether a sleeping node was
// armed for it and woke up.
func (h *Host) Trigger(num uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wake == nil {
		return false
	}
	if _, ok := h.armed[num]; !ok {
		return false
	}
	select {
	case h.wake <- num:
		return true
	default:
		return false
	}
}

func (h *Host) Reboot() {
	h.logger.Warn("reboot requested")
	if h.onReboot != nil {
		h.onReboot()
	}
}

func (h *Host) WatchdogReset() {
	h.mu.Lock()
	h.watchdog = time.Now()
	h.mu.Unlock()
}

// LastWatchdogReset is zero until the node has run at least once.
func (h *Host) LastWatchdogReset() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.watchdog
}

// UniqueID is a 16 byte name-based UUID of the host, nil before Init.
func (h *Host) UniqueID() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.id == uuid.Nil {
		return nil
	}
	id := h.id

	return id[:]
}
