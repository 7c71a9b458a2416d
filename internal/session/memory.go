package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"castctl/internal/trackid"
)

// Memory is an in-process controller. It applies commands to its own queue
// state, which makes it suitable for development and tests.
type Memory struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*memoryDevice
	dropped int
}

type memoryDevice struct {
	info    Device
	tracks  []trackid.ID
	pos     int
	playing bool
}

var _ Controller = (*Memory)(nil)

// NewMemory creates a controller seeded with devices.
func NewMemory(devices ...Device) *Memory {
	m := &Memory{devices: make(map[string]*memoryDevice)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// AddDevice registers a device or updates its descriptor. Queue state of an
// existing device is kept.
func (m *Memory) AddDevice(device Device) {
	device = normalizeDevice(device)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.devices[device.ID]; ok {
		existing.info = device
		return
	}
	m.order = append(m.order, device.ID)
	m.devices[device.ID] = &memoryDevice{info: device}
}

// SetQueue overwrites the queue of a known device.
func (m *Memory) SetQueue(deviceID string, queue Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	device.tracks = append([]trackid.ID(nil), queue.Tracks...)
	device.pos = queue.Position
	return nil
}

// Playing reports whether the last transport command left the device playing.
func (m *Memory) Playing(deviceID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, ok := m.devices[deviceID]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	return device.playing, nil
}

// Dropped counts commands addressed to devices the controller did not know.
func (m *Memory) Dropped() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}

func (m *Memory) Devices(ctx context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]Device, 0, len(m.order))
	for _, id := range m.order {
		devices = append(devices, m.devices[id].info)
	}
	return devices, nil
}

func (m *Memory) Queue(ctx context.Context, deviceID string) (Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, ok := m.devices[deviceID]
	if !ok {
		return Queue{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	return Queue{
		Tracks:   append([]trackid.ID(nil), device.tracks...),
		Position: device.pos,
	}, nil
}

// Submit applies cmd to the device's state. Commands for unknown devices are
// dropped without error, the way a remote controller ignores messages for
// devices that are not connected.
func (m *Memory) Submit(ctx context.Context, deviceID string, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cmd.Kind < KindPause || cmd.Kind > KindAppend {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}
	device, ok := m.devices[deviceID]
	if !ok {
		m.dropped++
		return nil
	}
	switch cmd.Kind {
	case KindPause:
		device.playing = false
	case KindPlay:
		device.playing = true
	case KindNext:
		if device.pos < len(device.tracks)-1 {
			device.pos++
		}
	case KindPrevious:
		if device.pos > 0 {
			device.pos--
		}
	case KindReplace:
		device.tracks = append([]trackid.ID(nil), cmd.Tracks...)
		device.pos = 0
	case KindAppend:
		device.tracks = append(device.tracks, cmd.Tracks...)
	}
	return nil
}

func normalizeDevice(device Device) Device {
	device.ID = strings.TrimSpace(device.ID)
	device.Name = norm.NFC.String(strings.TrimSpace(device.Name))
	if device.Name == "" {
		device.Name = device.ID
	}
	device.Kind = strings.TrimSpace(device.Kind)
	return device
}
