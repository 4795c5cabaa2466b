package fake

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blesim/internal/device"
)

// Service is a settable GATT service that owns an ordered list of characteristics.
type Service struct {
	uuid  ble.UUID
	chars []*Characteristic
}

// NewService creates an empty service with the UUID parsed from uuid.
func NewService(uuid string) (*Service, error) {
	u, err := device.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}
	return &Service{uuid: u}, nil
}

// MustService is like NewService but panics on a malformed UUID.
func MustService(uuid string) *Service {
	s, err := NewService(uuid)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Service) UUID() ble.UUID {
	return s.uuid
}

// Characteristics returns the characteristics in the order they were attached.
func (s *Service) Characteristics() []device.Characteristic {
	result := make([]device.Characteristic, 0, len(s.chars))
	for _, c := range s.chars {
		result = append(result, c)
	}
	return result
}

// List returns the owned characteristics with their concrete type, in order.
// The returned slice is a copy; the characteristics are not.
func (s *Service) List() []*Characteristic {
	return append([]*Characteristic(nil), s.chars...)
}

func (s *Service) SetUUID(u ble.UUID) {
	s.uuid = u
}

// SetCharacteristics replaces the characteristic list, preserving the given order.
// Every new member is moved to s: a member still held by another service is
// removed from that service first. Members that are dropped and still point at
// s are released. Duplicate UUIDs are not rejected here.
func (s *Service) SetCharacteristics(chars []*Characteristic) {
	kept := make(map[*Characteristic]bool, len(chars))
	for _, c := range chars {
		kept[c] = true
	}
	for _, old := range s.chars {
		if !kept[old] && old.service == s {
			old.service = nil
		}
	}

	s.chars = append([]*Characteristic(nil), chars...)
	for _, c := range s.chars {
		s.adopt(c)
	}
}

// AddCharacteristic appends c and binds its back-reference. A characteristic
// held by another service is moved out of it.
// Returns ErrDuplicateUUID if the service already holds a characteristic with the same UUID.
func (s *Service) AddCharacteristic(c *Characteristic) error {
	if existing := s.Characteristic(c.uuid); existing != nil {
		return fmt.Errorf("%w: service %s already contains characteristic %s",
			device.ErrDuplicateUUID, device.UUIDKey(s.uuid), device.UUIDKey(c.uuid))
	}
	s.chars = append(s.chars, c)
	s.adopt(c)
	return nil
}

// Characteristic returns the first characteristic with the given UUID, or nil.
func (s *Service) Characteristic(u ble.UUID) *Characteristic {
	for _, c := range s.chars {
		if device.SameUUID(c.uuid, u) {
			return c
		}
	}
	return nil
}

// RemoveCharacteristic releases the first characteristic with the given UUID.
// Reports whether one was removed.
func (s *Service) RemoveCharacteristic(u ble.UUID) bool {
	c := s.Characteristic(u)
	if c == nil {
		return false
	}
	s.detach(c)
	if c.service == s {
		c.service = nil
	}
	return true
}

// adopt points c at s, taking it out of the list of its previous owner.
func (s *Service) adopt(c *Characteristic) {
	if prev := c.service; prev != nil && prev != s {
		prev.detach(c)
	}
	c.service = s
}

func (s *Service) holds(c *Characteristic) bool {
	for _, held := range s.chars {
		if held == c {
			return true
		}
	}
	return false
}

// detach drops c from the list without touching its back-reference.
func (s *Service) detach(c *Characteristic) {
	for i, held := range s.chars {
		if held == c {
			s.chars = append(s.chars[:i:i], s.chars[i+1:]...)
			return
		}
	}
}

func (s *Service) String() string {
	return "service " + device.UUIDKey(s.uuid)
}
