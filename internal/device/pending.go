package device

import (
	"sync"
	"time"
)

// CommandKind identifies the user intent behind a pending command.
type CommandKind string

const (
	KindToggle        CommandKind = "toggle"
	KindSetBrightness CommandKind = "set_brightness"
	KindSetPower      CommandKind = "set_power"
	KindSetMode       CommandKind = "set_mode"
)

// PendingCommand guards a device against overlapping optimistic writes
// for the duration of one persistence round-trip.
type PendingCommand struct {
	DeviceID   string
	Kind       CommandKind
	Original   *Device // snapshot for rollback
	Optimistic *Device
	StartedAt  time.Time

	gen uint64
}

// pendingSet is the in-flight command table, keyed by device id. One
// entry per device: begin fails while an entry exists, which is what
// serializes commands per device.
type pendingSet struct {
	mu      sync.Mutex
	entries map[string]*PendingCommand
	grace   time.Duration
	nextGen uint64
}

func newPendingSet(grace time.Duration) *pendingSet {
	return &pendingSet{
		entries: make(map[string]*PendingCommand),
		grace:   grace,
	}
}

// begin registers a pending command. Returns false if the device already
// has one in flight.
func (p *pendingSet) begin(cmd *PendingCommand) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[cmd.DeviceID]; exists {
		return false
	}
	p.nextGen++
	cmd.gen = p.nextGen
	cmd.StartedAt = time.Now()
	p.entries[cmd.DeviceID] = cmd
	return true
}

// release removes the entry immediately (rollback and cancellation paths).
// Returns the released command, or nil if none was pending.
func (p *pendingSet) release(deviceID string) *PendingCommand {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd, ok := p.entries[deviceID]
	if !ok {
		return nil
	}
	delete(p.entries, deviceID)
	return cmd
}

// releaseOwned removes cmd's entry only if the device slot still belongs
// to cmd, running fn under the lock before the gate reopens. Returns
// false when the entry was already released or replaced; a command that
// lost its slot to cancellation must not touch state that now belongs to
// a successor.
func (p *pendingSet) releaseOwned(cmd *PendingCommand, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.entries[cmd.DeviceID]
	if !ok || cur.gen != cmd.gen {
		return false
	}
	if fn != nil {
		fn()
	}
	delete(p.entries, cmd.DeviceID)
	return true
}

// releaseAfterGrace keeps cmd's entry around briefly after a successful
// round-trip so a fast confirm does not flicker the UI, then removes it.
// The generation check makes the delayed removal a no-op if the entry was
// already released and replaced in the meantime.
func (p *pendingSet) releaseAfterGrace(cmd *PendingCommand) {
	if p.grace <= 0 {
		p.releaseIfGen(cmd.DeviceID, cmd.gen)
		return
	}

	time.AfterFunc(p.grace, func() {
		p.releaseIfGen(cmd.DeviceID, cmd.gen)
	})
}

func (p *pendingSet) releaseIfGen(deviceID string, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cmd, ok := p.entries[deviceID]; ok && cmd.gen == gen {
		delete(p.entries, deviceID)
	}
}

// get returns the pending command for a device, if any.
func (p *pendingSet) get(deviceID string) (*PendingCommand, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd, ok := p.entries[deviceID]
	return cmd, ok
}

// size returns the number of devices with a command in flight.
func (p *pendingSet) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
