package goble

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/blesim/internal/device"
)

// ----------------------------
// BLE Service
// ----------------------------

// Service wraps a discovered *ble.Service. Characteristics accumulate in
// discovery order as DiscoverCharacteristics finds them.
type Service struct {
	mu    sync.RWMutex
	svc   *ble.Service
	chars []*Characteristic
}

func newService(svc *ble.Service) *Service {
	return &Service{svc: svc}
}

func (s *Service) UUID() ble.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc.UUID
}

func (s *Service) Characteristics() []device.Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]device.Characteristic, len(s.chars))
	for i, c := range s.chars {
		result[i] = c
	}
	return result
}

// Unwrap returns the underlying go-ble service.
func (s *Service) Unwrap() *ble.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc
}

func (s *Service) setHandle(svc *ble.Service) {
	s.mu.Lock()
	s.svc = svc
	s.mu.Unlock()
}

// bind returns the wrapper for raw, creating and appending it when not yet known.
// An existing wrapper keeps its cached value and gets the fresh handle.
func (s *Service) bind(raw *ble.Characteristic) *Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := device.UUIDKey(raw.UUID)
	for _, c := range s.chars {
		if device.UUIDKey(c.UUID()) == key {
			c.mu.Lock()
			c.char = raw
			c.mu.Unlock()
			return c
		}
	}

	c := &Characteristic{char: raw, service: s}
	s.chars = append(s.chars, c)
	return c
}

func (s *Service) owns(c *Characteristic) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, have := range s.chars {
		if have == c {
			return true
		}
	}
	return false
}

// release detaches every characteristic from this service.
func (s *Service) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chars {
		c.mu.Lock()
		c.service = nil
		c.notifying = false
		c.mu.Unlock()
	}
	s.chars = nil
}

// ----------------------------
// BLE Characteristic
// ----------------------------

// Characteristic wraps a discovered *ble.Characteristic and caches the last
// value read or notified.
type Characteristic struct {
	mu        sync.RWMutex
	char      *ble.Characteristic
	service   *Service
	value     []byte
	notifying bool
}

func (c *Characteristic) UUID() ble.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.char.UUID
}

func (c *Characteristic) Value() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func (c *Characteristic) IsNotifying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifying
}

func (c *Characteristic) Properties() ble.Property {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.char.Property
}

func (c *Characteristic) Service() device.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.service == nil {
		return nil
	}
	return c.service
}

// Unwrap returns the underlying go-ble characteristic.
func (c *Characteristic) Unwrap() *ble.Characteristic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.char
}

func (c *Characteristic) setValue(data []byte) {
	c.mu.Lock()
	c.value = data
	c.mu.Unlock()
}

func (c *Characteristic) setNotifying(on bool) {
	c.mu.Lock()
	c.notifying = on
	c.mu.Unlock()
}

func (c *Characteristic) owner() *Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}
