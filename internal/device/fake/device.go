package fake

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// DefaultRSSI is the signal strength reported when none is configured.
	DefaultRSSI = -50

	// RSSIJitter bounds the random offset ReadRSSI adds to the configured RSSI.
	RSSIJitter = 8
)

// ReadResponder produces the value returned by a read of c.
type ReadResponder func(c *Characteristic) ([]byte, error)

// WriteResponder handles a write to c.
type WriteResponder func(c *Characteristic, data []byte, withResponse bool) error

// DisconnectHandler is called after the device transitions to disconnected.
// err is nil for a requested disconnect and non-nil for a simulated link loss.
type DisconnectHandler func(d *Device, err error)

// Option configures a Device.
type Option func(*Device)

// WithName sets the advertised local name.
func WithName(name string) Option {
	return func(d *Device) { d.name = name }
}

// WithRSSI sets the base signal strength.
func WithRSSI(rssi int) Option {
	return func(d *Device) { d.rssi = rssi }
}

// WithManufacturerData sets the advertised manufacturer data.
func WithManufacturerData(data []byte) Option {
	return func(d *Device) { d.manufacturerData = data }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Device) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRandSeed makes ReadRSSI jitter deterministic.
func WithRandSeed(seed int64) Option {
	return func(d *Device) { d.rand = rand.New(rand.NewSource(seed)) }
}

// WithDisconnectHandler registers the disconnect hook.
func WithDisconnectHandler(fn DisconnectHandler) Option {
	return func(d *Device) { d.onDisconnect = fn }
}

// WithAllowReconnect controls whether Connect succeeds after the device has
// been disconnected once. Reconnects are allowed by default.
func WithAllowReconnect(allow bool) Option {
	return func(d *Device) { d.allowReconnect = allow }
}

// WithLinkLossAfter drops every connection delay after it is established.
// Zero disables the timer.
func WithLinkLossAfter(delay time.Duration) Option {
	return func(d *Device) { d.linkLossAfter = delay }
}

// Device simulates a connectable peripheral that owns its services.
// It implements device.Device and is safe for concurrent use. Responders,
// notification handlers, and the disconnect hook run without the device lock
// held, so they may call back into the device.
type Device struct {
	*Peripheral

	mu sync.RWMutex

	name             string
	rssi             int
	manufacturerData []byte

	// service arena keyed by identity, in insertion order
	services *orderedmap.OrderedMap[*Service, struct{}]

	readers  map[*Characteristic]ReadResponder
	writers  map[*Characteristic]WriteResponder
	handlers map[*Characteristic]device.NotificationHandler

	allowReconnect bool
	didDisconnect  bool
	linkLossAfter  time.Duration
	// incremented on every successful Connect
	generation uint64

	onDisconnect DisconnectHandler
	rand         *rand.Rand
	logger       *logrus.Logger
}

var _ device.Device = (*Device)(nil)

// NewDevice creates a disconnected simulated device around p.
func NewDevice(p *Peripheral, opts ...Option) *Device {
	d := &Device{
		Peripheral: p,
		rssi:           DefaultRSSI,
		services:       orderedmap.New[*Service, struct{}](),
		readers:        make(map[*Characteristic]ReadResponder),
		writers:        make(map[*Characteristic]WriteResponder),
		handlers:       make(map[*Characteristic]device.NotificationHandler),
		allowReconnect: true,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:         logrus.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the advertised local name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// RSSI returns the configured base signal strength.
func (d *Device) RSSI() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

// ManufacturerData returns the advertised manufacturer data.
func (d *Device) ManufacturerData() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manufacturerData
}

func (d *Device) State() device.PeripheralState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Peripheral.State()
}

// SetState assigns any state. Transitions are not validated.
func (d *Device) SetState(state device.PeripheralState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Peripheral.SetState(state)
}

// DidDisconnect reports whether the device has been disconnected at least once.
func (d *Device) DidDisconnect() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.didDisconnect
}

func (d *Device) log() *logrus.Entry {
	return d.logger.WithField("peripheral", device.ShortenUUID(device.UUIDKey(d.Identifier())))
}

// ----------------------------
// Service arena
// ----------------------------

// AddService attaches s to the device. Returns ErrDuplicateUUID if s or a
// service with the same UUID is already attached.
func (d *Device) AddService(s *Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, attached := d.services.Get(s)
	if attached || d.lookup(s.UUID()) != nil {
		return fmt.Errorf("%w: peripheral already contains service %s", device.ErrDuplicateUUID, device.UUIDKey(s.UUID()))
	}
	d.services.Set(s, struct{}{})
	return nil
}

// RemoveService detaches the service with the given UUID. Reports whether one was removed.
func (d *Device) RemoveService(u ble.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.lookup(u)
	if s == nil {
		return false
	}
	d.services.Delete(s)
	for _, c := range s.chars {
		d.forget(c)
	}
	return true
}

// Service returns the attached service with the given UUID, or nil.
// The UUID is matched against each service's current UUID.
func (d *Device) Service(u ble.UUID) *Service {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(u)
}

// Services returns the attached services in insertion order.
func (d *Device) Services() []*Service {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*Service, 0, d.services.Len())
	for pair := d.services.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Key)
	}
	return result
}

// Characteristic returns the first characteristic with the given UUID across
// all services, in service order, or nil.
func (d *Device) Characteristic(u ble.UUID) *Characteristic {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for pair := d.services.Oldest(); pair != nil; pair = pair.Next() {
		if c := pair.Key.Characteristic(u); c != nil {
			return c
		}
	}
	return nil
}

// lookup returns the first attached service whose UUID matches u. Caller holds d.mu.
func (d *Device) lookup(u ble.UUID) *Service {
	for pair := d.services.Oldest(); pair != nil; pair = pair.Next() {
		if device.SameUUID(pair.Key.UUID(), u) {
			return pair.Key
		}
	}
	return nil
}

// resolve maps an interface value back to a characteristic owned by this device.
// Caller holds d.mu.
func (d *Device) resolve(c device.Characteristic) (*Characteristic, error) {
	fc, ok := c.(*Characteristic)
	if !ok || fc == nil {
		return nil, &device.NotFoundError{Resource: "characteristic"}
	}
	owner := fc.OwningService()
	if owner == nil {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{device.UUIDKey(fc.UUID())}}
	}
	if _, attached := d.services.Get(owner); !attached || !owner.holds(fc) {
		return nil, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{device.UUIDKey(owner.UUID()), device.UUIDKey(fc.UUID())},
		}
	}
	return fc, nil
}

func (d *Device) forget(c *Characteristic) {
	delete(d.readers, c)
	delete(d.writers, c)
	delete(d.handlers, c)
}

// ----------------------------
// Scripting
// ----------------------------

// OnRead registers the responder consulted by ReadValue for c.
func (d *Device) OnRead(c *Characteristic, fn ReadResponder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readers[c] = fn
}

// OnWrite registers the responder consulted by WriteValue for c.
func (d *Device) OnWrite(c *Characteristic, fn WriteResponder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writers[c] = fn
}

// SendResponse stores data as the value of c and, while c is notifying,
// delivers it to the registered notification handler.
func (d *Device) SendResponse(c *Characteristic, data []byte) error {
	d.mu.Lock()
	fc, err := d.resolve(c)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	fc.SetValue(data)
	handler, ok := d.handlers[fc]
	notifying := fc.IsNotifying()
	d.mu.Unlock()

	if !notifying || !ok {
		d.log().WithField("characteristic", device.UUIDKey(fc.UUID())).Debug("Value updated without subscriber")
		return nil
	}
	handler(fc, data)
	return nil
}

// SendResponseAfter calls SendResponse with a copy of data once delay has
// elapsed. c is validated immediately; a failure at delivery time is logged.
// Stop the returned timer to cancel the response.
func (d *Device) SendResponseAfter(c *Characteristic, data []byte, delay time.Duration) (*time.Timer, error) {
	d.mu.RLock()
	_, err := d.resolve(c)
	d.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	payload := append([]byte(nil), data...)
	return time.AfterFunc(delay, func() {
		if err := d.SendResponse(c, payload); err != nil {
			d.log().WithError(err).WithField("characteristic", device.UUIDKey(c.UUID())).Warn("Delayed response dropped")
		}
	}), nil
}

// SimulateLinkLoss drops the connection as if the radio link failed.
func (d *Device) SimulateLinkLoss() {
	d.teardown(linkLost(), 0)
}

// SimulateLinkLossAfter drops the current connection once delay has elapsed.
// The timer has no effect if that connection ends before it fires.
func (d *Device) SimulateLinkLossAfter(delay time.Duration) *time.Timer {
	d.mu.RLock()
	gen := d.generation
	d.mu.RUnlock()
	return d.scheduleLinkLoss(gen, delay)
}

// scheduleLinkLoss arms a timer for the connection with generation gen.
// Generation 0 means no connection was ever made, so the timer does nothing.
func (d *Device) scheduleLinkLoss(gen uint64, delay time.Duration) *time.Timer {
	return time.AfterFunc(delay, func() {
		if gen != 0 {
			d.teardown(linkLost(), gen)
		}
	})
}

func linkLost() error {
	return &device.ConnectionError{State: device.NotConnected, Msg: "link lost"}
}

// ----------------------------
// device.Device
// ----------------------------

// Connect moves the device through connecting to connected. After the first
// disconnect it fails with ErrNotPermitted unless reconnects are allowed.
func (d *Device) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.Peripheral.State() == device.StateConnected {
		d.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	if d.didDisconnect && !d.allowReconnect {
		d.mu.Unlock()
		return fmt.Errorf("%w: reconnect refused after disconnect", device.ErrNotPermitted)
	}
	d.Peripheral.SetState(device.StateConnecting)
	d.Peripheral.SetState(device.StateConnected)
	d.generation++
	gen, after := d.generation, d.linkLossAfter
	d.mu.Unlock()

	d.log().Debug("Connected")
	if after > 0 {
		d.scheduleLinkLoss(gen, after)
	}
	return nil
}

// Disconnect moves the device through disconnecting to disconnected.
// Notification subscriptions are dropped.
func (d *Device) Disconnect() error {
	if !d.teardown(nil, 0) {
		return device.ErrNotConnected
	}
	return nil
}

// teardown disconnects and reports whether it did. A non-zero gen restricts it
// to the connection with that generation.
func (d *Device) teardown(cause error, gen uint64) bool {
	d.mu.Lock()
	if d.Peripheral.State() == device.StateDisconnected || (gen != 0 && gen != d.generation) {
		d.mu.Unlock()
		return false
	}
	d.Peripheral.SetState(device.StateDisconnecting)
	for pair := d.services.Oldest(); pair != nil; pair = pair.Next() {
		for _, c := range pair.Key.chars {
			c.SetNotifying(false)
		}
	}
	clear(d.handlers)
	d.didDisconnect = true
	d.Peripheral.SetState(device.StateDisconnected)
	onDisconnect := d.onDisconnect
	d.mu.Unlock()

	entry := d.log()
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Debug("Disconnected")

	if onDisconnect != nil {
		onDisconnect(d, cause)
	}
	return true
}

// requireConnected checks ctx and the connection state. Caller holds d.mu.
func (d *Device) requireConnected(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Peripheral.State() != device.StateConnected {
		return &device.ConnectionError{State: device.NotConnected, Msg: op}
	}
	return nil
}

// DiscoverServices returns attached services matching filter, in insertion order.
func (d *Device) DiscoverServices(ctx context.Context, filter []ble.UUID) ([]device.Service, error) {
	d.mu.RLock()
	if err := d.requireConnected(ctx, "discover services"); err != nil {
		d.mu.RUnlock()
		return nil, err
	}
	var result []device.Service
	for pair := d.services.Oldest(); pair != nil; pair = pair.Next() {
		if device.MatchesFilter(filter, pair.Key.UUID()) {
			result = append(result, pair.Key)
		}
	}
	d.mu.RUnlock()

	d.log().WithField("count", len(result)).Debug("Services discovered")
	return result, nil
}

// DiscoverCharacteristics returns the characteristics of svc matching filter, in service order.
// svc is either an attached *Service or any service whose UUID matches an attached one.
func (d *Device) DiscoverCharacteristics(ctx context.Context, filter []ble.UUID, svc device.Service) ([]device.Characteristic, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.requireConnected(ctx, "discover characteristics"); err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, &device.NotFoundError{Resource: "service"}
	}

	s, _ := svc.(*Service)
	if _, attached := d.services.Get(s); s == nil || !attached {
		s = d.lookup(svc.UUID())
	}
	key := device.UUIDKey(svc.UUID())
	if s == nil {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{key}}
	}

	var result []device.Characteristic
	for _, c := range s.chars {
		if device.MatchesFilter(filter, c.UUID()) {
			result = append(result, c)
		}
	}
	d.log().WithFields(logrus.Fields{"service": key, "count": len(result)}).Debug("Characteristics discovered")
	return result, nil
}

// ReadValue returns the responder's value when one is registered (storing it on
// success), otherwise the current value.
func (d *Device) ReadValue(ctx context.Context, c device.Characteristic) ([]byte, error) {
	d.mu.Lock()
	fc, err := d.checkAccess(ctx, c, "read", ble.CharRead, "read")
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	fn, ok := d.readers[fc]
	if !ok {
		value := fc.Value()
		d.mu.Unlock()
		return value, nil
	}
	d.mu.Unlock()

	data, err := fn(fc)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	fc.SetValue(data)
	d.mu.Unlock()
	return data, nil
}

// WriteValue routes data to the registered responder. Without one the data is
// stored as the characteristic value.
func (d *Device) WriteValue(ctx context.Context, c device.Characteristic, data []byte, withResponse bool) error {
	need, kind := ble.CharWriteNR, "write without response"
	if withResponse {
		need, kind = ble.CharWrite, "write"
	}

	d.mu.Lock()
	fc, err := d.checkAccess(ctx, c, "write", need, kind)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	fn, ok := d.writers[fc]
	if !ok {
		fc.SetValue(data)
	}
	d.mu.Unlock()

	if ok {
		return fn(fc, data, withResponse)
	}
	d.log().WithField("characteristic", device.UUIDKey(fc.UUID())).Debug("Unhandled write stored as value")
	return nil
}

// checkAccess resolves c and checks its properties allow kind. Caller holds d.mu.
func (d *Device) checkAccess(ctx context.Context, c device.Characteristic, op string, need ble.Property, kind string) (*Characteristic, error) {
	if err := d.requireConnected(ctx, op); err != nil {
		return nil, err
	}
	fc, err := d.resolve(c)
	if err != nil {
		return nil, err
	}
	if !permits(fc.Properties(), need) {
		return nil, fmt.Errorf("%w: %s does not support %s", device.ErrNotPermitted, fc, kind)
	}
	return fc, nil
}

// SetNotifyValue toggles notifications on c. handler receives SendResponse payloads while enabled.
func (d *Device) SetNotifyValue(ctx context.Context, c device.Characteristic, enabled bool, handler device.NotificationHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !enabled {
		if err := d.requireConnected(ctx, "set notify value"); err != nil {
			return err
		}
		fc, err := d.resolve(c)
		if err != nil {
			return err
		}
		fc.SetNotifying(false)
		delete(d.handlers, fc)
		return nil
	}

	fc, err := d.checkAccess(ctx, c, "set notify value", ble.CharNotify|ble.CharIndicate, "notify")
	if err != nil {
		return err
	}
	fc.SetNotifying(true)
	if handler != nil {
		d.handlers[fc] = handler
	}
	return nil
}

// ReadRSSI returns the base RSSI with a random offset in [-RSSIJitter, RSSIJitter).
func (d *Device) ReadRSSI(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireConnected(ctx, "read rssi"); err != nil {
		return 0, err
	}
	return d.rssi + d.rand.Intn(2*RSSIJitter) - RSSIJitter, nil
}

// permits reports whether props allows any of want. Zero props permit everything.
func permits(props, want ble.Property) bool {
	return props == 0 || props&want != 0
}
