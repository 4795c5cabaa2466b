package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device"
	"github.com/srg/blesim/internal/groutine"
)

// Peripheral adapts a go-ble client to device.Device.
type Peripheral struct {
	logger  *logrus.Logger
	address string
	dialer  func(ctx context.Context) (Client, error)

	mu        sync.RWMutex
	client    Client
	id        ble.UUID
	state     device.PeripheralState
	services  []*Service
	stopWatch context.CancelFunc
}

var _ device.Device = (*Peripheral)(nil)

// NewPeripheral wraps an already connected client. A nil client yields a
// disconnected peripheral that cannot be connected.
func NewPeripheral(client Client, logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}

	p := &Peripheral{logger: logger, state: device.StateDisconnected}
	if client != nil {
		p.attach(client)
	}
	return p
}

// Identifier returns the platform identifier when the address is a UUID
// (CoreBluetooth), otherwise a stable name-based UUID derived from the address.
func (p *Peripheral) Identifier() ble.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

func (p *Peripheral) State() device.PeripheralState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Address returns the platform address this peripheral was dialed on.
func (p *Peripheral) Address() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.address
}

// attach binds a connected client. Caller holds p.mu or owns p exclusively.
func (p *Peripheral) attach(client Client) {
	if p.address == "" {
		if addr := client.Addr(); addr != nil {
			p.address = addr.String()
		}
	}
	p.client = client
	p.id = identifierFor(p.address)
	p.state = device.StateConnected
	p.watch(client)
}

// watch tears the connection down when the platform reports link loss.
func (p *Peripheral) watch(client Client) {
	notifier, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		p.logger.Debug("Client does not report disconnection, link loss goes unnoticed until the next operation")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.stopWatch = cancel
	groutine.Go(ctx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-notifier.Disconnected():
			p.linkLost(client)
		case <-ctx.Done():
		}
	})
}

func (p *Peripheral) linkLost(client Client) {
	p.mu.Lock()
	if p.client != client || p.state != device.StateConnected {
		p.mu.Unlock()
		return
	}
	p.detachLocked()
	p.state = device.StateDisconnected
	p.mu.Unlock()

	p.logger.WithField("address", p.address).Warn("BLE link lost")
}

// detachLocked drops the client and the discovered object graph. Caller holds p.mu.
func (p *Peripheral) detachLocked() {
	if p.stopWatch != nil {
		p.stopWatch()
		p.stopWatch = nil
	}
	for _, s := range p.services {
		s.release()
	}
	p.services = nil
	p.client = nil
}

// ----------------------------
// Connection
// ----------------------------

// Connect redials the peripheral's address.
func (p *Peripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.state == device.StateConnected {
		p.mu.Unlock()
		p.logger.WithField("address", p.address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}
	if p.dialer == nil {
		p.mu.Unlock()
		return &device.ConnectionError{State: device.NotInitialized, Msg: "peripheral has no address to dial"}
	}
	p.state = device.StateConnecting
	p.mu.Unlock()

	p.logger.WithField("address", p.address).Info("Connecting to BLE device...")
	client, err := p.dialer(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = device.StateDisconnected
		return err
	}
	p.attach(client)

	p.logger.WithField("address", p.address).Info("BLE device connected successfully")
	return nil
}

// Disconnect unsubscribes active notifications and cancels the connection.
func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	if p.client == nil || p.state != device.StateConnected {
		p.mu.Unlock()
		return device.ErrNotConnected
	}
	client := p.client
	p.state = device.StateDisconnecting

	var active []*Characteristic
	for _, s := range p.services {
		for _, c := range s.Characteristics() {
			if c.IsNotifying() {
				active = append(active, c.(*Characteristic))
			}
		}
	}
	p.mu.Unlock()

	p.logger.WithField("address", p.address).Info("Disconnecting BLE device...")

	for _, c := range active {
		if err := client.Unsubscribe(c.Unwrap(), usesIndication(c.Properties())); err != nil {
			p.logger.WithFields(logrus.Fields{
				"char_uuid": device.UUIDKey(c.UUID()),
				"error":     err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	err := device.NormalizeError(client.CancelConnection())

	p.mu.Lock()
	p.detachLocked()
	p.state = device.StateDisconnected
	p.mu.Unlock()

	if err != nil {
		p.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return err
	}
	p.logger.Info("BLE device disconnected successfully")
	return nil
}

func (p *Peripheral) requireConnected(op string) (Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil || p.state != device.StateConnected {
		return nil, &device.ConnectionError{State: device.NotConnected, Msg: op}
	}
	return p.client, nil
}

// ----------------------------
// Discovery
// ----------------------------

func (p *Peripheral) DiscoverServices(ctx context.Context, filter []ble.UUID) ([]device.Service, error) {
	client, err := p.requireConnected("discover services")
	if err != nil {
		return nil, err
	}

	var raws []*ble.Service
	err = groutine.Await(ctx, "ble-discover-services", func() (err error) {
		raws, err = client.DiscoverServices(filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]device.Service, 0, len(raws))
	for _, raw := range raws {
		if !device.MatchesFilter(filter, raw.UUID) {
			continue
		}
		result = append(result, p.bindServiceLocked(raw))
	}

	p.logger.WithFields(logrus.Fields{
		"address":  p.address,
		"services": len(result),
	}).Debug("Services discovered")
	return result, nil
}

func (p *Peripheral) bindServiceLocked(raw *ble.Service) *Service {
	key := device.UUIDKey(raw.UUID)
	for _, s := range p.services {
		if device.UUIDKey(s.UUID()) == key {
			s.setHandle(raw)
			return s
		}
	}
	s := newService(raw)
	p.services = append(p.services, s)
	return s
}

func (p *Peripheral) DiscoverCharacteristics(ctx context.Context, filter []ble.UUID, svc device.Service) ([]device.Characteristic, error) {
	client, err := p.requireConnected("discover characteristics")
	if err != nil {
		return nil, err
	}

	s, ok := svc.(*Service)
	if !ok || !p.ownsService(s) {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: uuidKeys(svc)}
	}

	var raws []*ble.Characteristic
	err = groutine.Await(ctx, "ble-discover-characteristics", func() (err error) {
		raws, err = client.DiscoverCharacteristics(filter, s.Unwrap())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", device.NormalizeError(err))
	}

	result := make([]device.Characteristic, 0, len(raws))
	for _, raw := range raws {
		if !device.MatchesFilter(filter, raw.UUID) {
			continue
		}
		result = append(result, s.bind(raw))
	}
	return result, nil
}

func (p *Peripheral) ownsService(s *Service) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, have := range p.services {
		if have == s {
			return true
		}
	}
	return false
}

func (p *Peripheral) resolve(c device.Characteristic) (*Characteristic, error) {
	bc, ok := c.(*Characteristic)
	if ok {
		if owner := bc.owner(); owner != nil && p.ownsService(owner) && owner.owns(bc) {
			return bc, nil
		}
	}

	var uuids []string
	if c != nil {
		if s := c.Service(); s != nil {
			uuids = append(uuids, device.UUIDKey(s.UUID()))
		}
		uuids = append(uuids, device.UUIDKey(c.UUID()))
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: uuids}
}

// ----------------------------
// Value operations
// ----------------------------

func (p *Peripheral) ReadValue(ctx context.Context, c device.Characteristic) ([]byte, error) {
	client, err := p.requireConnected("read")
	if err != nil {
		return nil, err
	}
	ch, err := p.resolve(c)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = groutine.Await(ctx, "ble-read", func() (err error) {
		data, err = client.ReadCharacteristic(ch.Unwrap())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", device.UUIDKey(ch.UUID()), device.NormalizeError(err))
	}

	ch.setValue(data)
	return data, nil
}

func (p *Peripheral) WriteValue(ctx context.Context, c device.Characteristic, data []byte, withResponse bool) error {
	client, err := p.requireConnected("write")
	if err != nil {
		return err
	}
	ch, err := p.resolve(c)
	if err != nil {
		return err
	}

	err = groutine.Await(ctx, "ble-write", func() error {
		return client.WriteCharacteristic(ch.Unwrap(), data, !withResponse)
	})
	if err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", device.UUIDKey(ch.UUID()), device.NormalizeError(err))
	}
	return nil
}

func (p *Peripheral) SetNotifyValue(ctx context.Context, c device.Characteristic, enabled bool, handler device.NotificationHandler) error {
	client, err := p.requireConnected("set notify")
	if err != nil {
		return err
	}
	ch, err := p.resolve(c)
	if err != nil {
		return err
	}

	key := device.UUIDKey(ch.UUID())
	props := ch.Properties()
	ind := usesIndication(props)

	if !enabled {
		if !ch.IsNotifying() {
			return nil
		}
		err = groutine.Await(ctx, "ble-unsubscribe", func() error {
			return client.Unsubscribe(ch.Unwrap(), ind)
		})
		if err != nil {
			return fmt.Errorf("failed to unsubscribe from %s: %w", key, device.NormalizeError(err))
		}
		ch.setNotifying(false)
		return nil
	}

	if props&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("%w: characteristic %s does not support notifications", device.ErrNotPermitted, key)
	}

	// go-ble invokes the handler on its own goroutine and may reuse the buffer.
	onData := func(data []byte) {
		buf := append([]byte(nil), data...)
		ch.setValue(buf)
		if handler != nil {
			handler(ch, buf)
		}
	}

	err = groutine.Await(ctx, "ble-subscribe", func() error {
		return client.Subscribe(ch.Unwrap(), ind, onData)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", key, device.NormalizeError(err))
	}
	ch.setNotifying(true)

	p.logger.WithFields(logrus.Fields{
		"char_uuid": key,
		"indicate":  ind,
	}).Debug("Notifications enabled")
	return nil
}

func (p *Peripheral) ReadRSSI(ctx context.Context) (int, error) {
	client, err := p.requireConnected("read rssi")
	if err != nil {
		return 0, err
	}

	var rssi int
	err = groutine.Await(ctx, "ble-read-rssi", func() error {
		rssi = client.ReadRSSI()
		return nil
	})
	return rssi, err
}

// ----------------------------
// Helpers
// ----------------------------

// usesIndication prefers notifications when a characteristic supports both.
func usesIndication(props ble.Property) bool {
	return props&ble.CharNotify == 0 && props&ble.CharIndicate != 0
}

func identifierFor(address string) ble.UUID {
	if u, err := device.ParseUUID(address); err == nil && len(u) == 16 {
		return u
	}
	derived := uuid.NewV5(uuid.NamespaceOID, strings.ToLower(address))
	return device.MustParseUUID(derived.String())
}

func uuidKeys(svc device.Service) []string {
	if s, ok := svc.(*Service); svc == nil || (ok && s == nil) {
		return nil
	}
	return []string{device.UUIDKey(svc.UUID())}
}
