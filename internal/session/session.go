// Package session drives a device.Device the way application code does:
// service handlers register by UUID and receive discovery results, notification
// state changes, and data for the characteristics of their service.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device"
	"github.com/srg/blesim/internal/groutine"
)

// ServiceHandler consumes the events for one GATT service.
type ServiceHandler interface {
	// UUID is the service this handler is registered for.
	UUID() ble.UUID
	HandleServiceDiscovered(s *Session, svc device.Service)
	HandleCharacteristicsDiscovered(s *Session, svc device.Service, chars []device.Characteristic)
	HandleNotifyState(s *Session, c device.Characteristic)
	// HandleData receives read results and notifications.
	HandleData(s *Session, c device.Characteristic, data []byte)
}

// Op names the session operation an asynchronous error came from.
type Op int

const (
	OpReadRSSI Op = iota
	OpDiscoverServices
	OpDiscoverCharacteristics
	OpUpdateNotificationState
	OpUpdateValue
)

func (o Op) String() string {
	switch o {
	case OpReadRSSI:
		return "read_rssi"
	case OpDiscoverServices:
		return "discover_services"
	case OpDiscoverCharacteristics:
		return "discover_characteristics"
	case OpUpdateNotificationState:
		return "update_notification_state"
	case OpUpdateValue:
		return "update_value"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRSSIHandler receives every RSSI reading, whether requested with ReadRSSI or polled.
func WithRSSIHandler(fn func(rssi int)) Option {
	return func(s *Session) { s.onRSSI = fn }
}

// WithErrorHandler receives errors from background RSSI polling.
func WithErrorHandler(fn func(op Op, err error)) Option {
	return func(s *Session) { s.onError = fn }
}

// Session wraps a device and routes its events to registered service handlers.
type Session struct {
	dev      device.Device
	logger   *logrus.Logger
	handlers *hashmap.Map[string, ServiceHandler]
	onRSSI   func(int)
	onError  func(Op, error)

	pollMu   sync.Mutex
	stopPoll context.CancelFunc
	pollDone chan struct{}
}

// New creates a session over dev.
func New(dev device.Device, opts ...Option) *Session {
	s := &Session{
		dev:      dev,
		logger:   logrus.New(),
		handlers: hashmap.New[string, ServiceHandler](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Device returns the wrapped device.
func (s *Session) Device() device.Device {
	return s.dev
}

// IsConnected reports whether the wrapped device is connected.
func (s *Session) IsConnected() bool {
	return s.dev.State() == device.StateConnected
}

// ----------------------------
// Handler registry
// ----------------------------

// Register adds h, replacing any handler already registered for the same service.
func (s *Session) Register(h ServiceHandler) {
	s.handlers.Set(device.UUIDKey(h.UUID()), h)
}

// Handler returns the handler registered for the service u.
func (s *Session) Handler(u ble.UUID) (ServiceHandler, bool) {
	return s.handlers.Get(device.UUIDKey(u))
}

// ClearHandlers removes every registered handler.
func (s *Session) ClearHandlers() {
	var keys []string
	s.handlers.Range(func(k string, _ ServiceHandler) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		s.handlers.Del(k)
	}
}

func (s *Session) handlerFor(c device.Characteristic) (ServiceHandler, bool) {
	svc := c.Service()
	if svc == nil {
		s.logger.WithField("char_uuid", device.UUIDKey(c.UUID())).Warn("Characteristic is detached from its service")
		return nil, false
	}
	h, ok := s.Handler(svc.UUID())
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"service_uuid": device.UUIDKey(svc.UUID()),
			"char_uuid":    device.UUIDKey(c.UUID()),
		}).Warn("No handler registered for service")
	}
	return h, ok
}

func (s *Session) requireConnected(op Op) error {
	if !s.IsConnected() {
		return &device.ConnectionError{State: device.NotConnected, Msg: op.String()}
	}
	return nil
}

// ----------------------------
// Discovery
// ----------------------------

// DiscoverServices discovers the services matching uuids (all when empty) and
// hands each one to its registered handler. Services without a handler are skipped.
func (s *Session) DiscoverServices(ctx context.Context, uuids []ble.UUID) ([]device.Service, error) {
	if err := s.requireConnected(OpDiscoverServices); err != nil {
		return nil, err
	}

	svcs, err := s.dev.DiscoverServices(ctx, uuids)
	if err != nil {
		return nil, err
	}

	for _, svc := range svcs {
		h, ok := s.Handler(svc.UUID())
		if !ok {
			s.logger.WithField("service_uuid", device.UUIDKey(svc.UUID())).Warn("Discovered service has no registered handler")
			continue
		}
		h.HandleServiceDiscovered(s, svc)
	}
	return svcs, nil
}

// DiscoverCharacteristics discovers the characteristics of svc matching uuids
// and hands them to the service's handler.
func (s *Session) DiscoverCharacteristics(ctx context.Context, uuids []ble.UUID, svc device.Service) ([]device.Characteristic, error) {
	if err := s.requireConnected(OpDiscoverCharacteristics); err != nil {
		return nil, err
	}

	chars, err := s.dev.DiscoverCharacteristics(ctx, uuids, svc)
	if err != nil {
		return nil, err
	}

	if h, ok := s.Handler(svc.UUID()); ok {
		h.HandleCharacteristicsDiscovered(s, svc, chars)
	} else {
		s.logger.WithField("service_uuid", device.UUIDKey(svc.UUID())).Warn("Discovered characteristics for a service with no registered handler")
	}
	return chars, nil
}

// ----------------------------
// Value operations
// ----------------------------

// SetNotify enables or disables notifications on c. Notifications are delivered
// to the handler of c's service.
func (s *Session) SetNotify(ctx context.Context, c device.Characteristic, enabled bool) error {
	if err := s.requireConnected(OpUpdateNotificationState); err != nil {
		return err
	}

	if err := s.dev.SetNotifyValue(ctx, c, enabled, s.dispatch); err != nil {
		return err
	}

	if h, ok := s.handlerFor(c); ok {
		h.HandleNotifyState(s, c)
	}
	return nil
}

// Read reads c and delivers the value to the handler of c's service.
func (s *Session) Read(ctx context.Context, c device.Characteristic) ([]byte, error) {
	if err := s.requireConnected(OpUpdateValue); err != nil {
		return nil, err
	}

	data, err := s.dev.ReadValue(ctx, c)
	if err != nil {
		return nil, err
	}
	s.dispatch(c, data)
	return data, nil
}

// Write writes data to c.
func (s *Session) Write(ctx context.Context, c device.Characteristic, data []byte, withResponse bool) error {
	if err := s.requireConnected(OpUpdateValue); err != nil {
		return err
	}
	return s.dev.WriteValue(ctx, c, data, withResponse)
}

func (s *Session) dispatch(c device.Characteristic, data []byte) {
	if h, ok := s.handlerFor(c); ok {
		h.HandleData(s, c, data)
	}
}

// ----------------------------
// RSSI
// ----------------------------

// ReadRSSI reads the current signal strength and reports it to the RSSI handler.
func (s *Session) ReadRSSI(ctx context.Context) (int, error) {
	if err := s.requireConnected(OpReadRSSI); err != nil {
		return 0, err
	}

	rssi, err := s.dev.ReadRSSI(ctx)
	if err != nil {
		return 0, err
	}
	if s.onRSSI != nil {
		s.onRSSI(rssi)
	}
	return rssi, nil
}

// StartReadingRSSI polls the RSSI every interval until StopReadingRSSI is called
// or the device disconnects. Calling it while already polling does nothing.
func (s *Session) StartReadingRSSI(interval time.Duration) error {
	if err := s.requireConnected(OpReadRSSI); err != nil {
		return err
	}

	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.stopPoll != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopPoll = cancel
	s.pollDone = done

	groutine.Go(ctx, "session-rssi-poll", func(ctx context.Context) {
		defer close(done)
		defer s.pollExited(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if _, err := s.ReadRSSI(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if s.onError != nil {
					s.onError(OpReadRSSI, err)
				}
				if device.IsConnectionState(err, device.NotConnected) {
					s.logger.Debug("Device disconnected, RSSI polling stopped")
					return
				}
			}
		}
	})
	return nil
}

// IsReadingRSSI reports whether an RSSI poller is running.
func (s *Session) IsReadingRSSI() bool {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.stopPoll != nil
}

// pollExited forgets a poller that stopped on its own so that polling can be restarted.
func (s *Session) pollExited(done chan struct{}) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.pollDone == done {
		s.stopPoll()
		s.stopPoll, s.pollDone = nil, nil
	}
}

// StopReadingRSSI stops RSSI polling and waits for the poller to exit.
func (s *Session) StopReadingRSSI() {
	s.pollMu.Lock()
	cancel, done := s.stopPoll, s.pollDone
	s.stopPoll, s.pollDone = nil, nil
	s.pollMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
