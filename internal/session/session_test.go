package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device"
	"github.com/srg/blesim/internal/device/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockHandler struct {
	mock.Mock
	uuid ble.UUID
}

func (m *mockHandler) UUID() ble.UUID { return m.uuid }

func (m *mockHandler) HandleServiceDiscovered(s *Session, svc device.Service) {
	m.Called(s, svc)
}

func (m *mockHandler) HandleCharacteristicsDiscovered(s *Session, svc device.Service, chars []device.Characteristic) {
	m.Called(s, svc, chars)
}

func (m *mockHandler) HandleNotifyState(s *Session, c device.Characteristic) {
	m.Called(s, c)
}

func (m *mockHandler) HandleData(s *Session, c device.Characteristic, data []byte) {
	m.Called(s, c, data)
}

type SessionTestSuite struct {
	suite.Suite

	ctx     context.Context
	dev     *fake.Device
	hr      *fake.Service
	hrm     *fake.Characteristic
	battery *fake.Service
	handler *mockHandler
	session *Session
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.ctx = context.Background()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	s.hr = fake.MustService("180D")
	s.hrm = fake.MustCharacteristic("2A37")
	s.hrm.SetProperties(ble.CharRead | ble.CharNotify)
	s.hrm.SetValue([]byte{0, 60})
	s.Require().NoError(s.hr.AddCharacteristic(s.hrm))

	s.battery = fake.MustService("180F")
	s.Require().NoError(s.battery.AddCharacteristic(fake.MustCharacteristic("2A19")))

	s.dev = fake.NewDevice(fake.MustPeripheral("1234"), fake.WithLogger(logger), fake.WithRandSeed(7))
	s.Require().NoError(s.dev.AddService(s.hr))
	s.Require().NoError(s.dev.AddService(s.battery))

	s.handler = &mockHandler{uuid: device.MustParseUUID("180D")}
	s.session = New(s.dev, WithLogger(logger))
	s.session.Register(s.handler)
}

func (s *SessionTestSuite) TearDownTest() {
	s.session.StopReadingRSSI()
	s.handler.AssertExpectations(s.T())
}

func (s *SessionTestSuite) connect() {
	s.Require().NoError(s.dev.Connect(s.ctx))
}

func (s *SessionTestSuite) TestNotConnected() {
	s.False(s.session.IsConnected())

	_, err := s.session.DiscoverServices(s.ctx, nil)
	s.True(errors.Is(err, device.ErrNotConnected))
	_, err = s.session.DiscoverCharacteristics(s.ctx, nil, s.hr)
	s.True(errors.Is(err, device.ErrNotConnected))
	s.True(errors.Is(s.session.SetNotify(s.ctx, s.hrm, true), device.ErrNotConnected))
	_, err = s.session.Read(s.ctx, s.hrm)
	s.True(errors.Is(err, device.ErrNotConnected))
	s.True(errors.Is(s.session.Write(s.ctx, s.hrm, []byte{1}, true), device.ErrNotConnected))
	_, err = s.session.ReadRSSI(s.ctx)
	s.True(errors.Is(err, device.ErrNotConnected))
	s.True(errors.Is(s.session.StartReadingRSSI(time.Millisecond), device.ErrNotConnected))
}

func (s *SessionTestSuite) TestDiscoverServices_RoutesToHandler() {
	s.connect()
	s.handler.On("HandleServiceDiscovered", s.session, s.hr).Once()

	svcs, err := s.session.DiscoverServices(s.ctx, nil)
	s.Require().NoError(err)
	s.Len(svcs, 2, "unhandled services are still returned")
}

func (s *SessionTestSuite) TestDiscoverCharacteristics_RoutesToHandler() {
	s.connect()
	s.handler.On("HandleCharacteristicsDiscovered", s.session, s.hr, mock.MatchedBy(func(chars []device.Characteristic) bool {
		return len(chars) == 1 && chars[0] == device.Characteristic(s.hrm)
	})).Once()

	_, err := s.session.DiscoverCharacteristics(s.ctx, nil, s.hr)
	s.Require().NoError(err)

	// no handler for battery: nothing is called
	chars, err := s.session.DiscoverCharacteristics(s.ctx, nil, s.battery)
	s.Require().NoError(err)
	s.Len(chars, 1)
}

func (s *SessionTestSuite) TestNotifications() {
	s.connect()
	s.handler.On("HandleNotifyState", s.session, s.hrm).Twice()
	s.handler.On("HandleData", s.session, s.hrm, []byte{0, 75}).Once()

	s.Require().NoError(s.session.SetNotify(s.ctx, s.hrm, true))
	s.True(s.hrm.IsNotifying())
	s.Require().NoError(s.dev.SendResponse(s.hrm, []byte{0, 75}))

	s.Require().NoError(s.session.SetNotify(s.ctx, s.hrm, false))
	s.Require().NoError(s.dev.SendResponse(s.hrm, []byte{0, 80}))
}

func (s *SessionTestSuite) TestRead() {
	s.connect()
	s.handler.On("HandleData", s.session, s.hrm, []byte{0, 60}).Once()

	data, err := s.session.Read(s.ctx, s.hrm)
	s.Require().NoError(err)
	s.Equal([]byte{0, 60}, data)
}

func (s *SessionTestSuite) TestWrite() {
	s.connect()
	level := s.battery.Characteristic(device.MustParseUUID("2A19"))
	s.Require().NoError(s.session.Write(s.ctx, level, []byte{55}, true))
	s.Equal([]byte{55}, level.Value())
}

func (s *SessionTestSuite) TestHandlerRegistry() {
	h, ok := s.session.Handler(device.MustParseUUID("0000180d-0000-1000-8000-00805f9b34fb"))
	s.True(ok)
	s.Same(s.handler, h)

	replacement := &mockHandler{uuid: device.MustParseUUID("180D")}
	s.session.Register(replacement)
	h, _ = s.session.Handler(device.MustParseUUID("180D"))
	s.Same(replacement, h)

	s.session.ClearHandlers()
	_, ok = s.session.Handler(device.MustParseUUID("180D"))
	s.False(ok)

	s.connect()
	_, err := s.session.DiscoverServices(s.ctx, nil)
	s.NoError(err)
}

func (s *SessionTestSuite) TestReadRSSI() {
	var readings []int
	s.session = New(s.dev, WithRSSIHandler(func(rssi int) { readings = append(readings, rssi) }))
	s.connect()

	rssi, err := s.session.ReadRSSI(s.ctx)
	s.Require().NoError(err)
	s.Equal([]int{rssi}, readings)
}

func (s *SessionTestSuite) TestRSSIPolling() {
	readings := make(chan int, 16)
	s.session = New(s.dev, WithRSSIHandler(func(rssi int) {
		select {
		case readings <- rssi:
		default:
		}
	}))
	s.connect()

	s.Require().NoError(s.session.StartReadingRSSI(2 * time.Millisecond))
	s.Require().NoError(s.session.StartReadingRSSI(2*time.Millisecond), "second start is a no-op")

	for i := 0; i < 2; i++ {
		select {
		case <-readings:
		case <-time.After(time.Second):
			s.FailNow("no RSSI reading")
		}
	}

	s.session.StopReadingRSSI()
	s.session.StopReadingRSSI()
}

func (s *SessionTestSuite) TestRSSIPolling_StopsOnLinkLossAndRestarts() {
	readings := make(chan int, 16)
	failures := make(chan error, 4)
	s.session = New(s.dev,
		WithRSSIHandler(func(rssi int) {
			select {
			case readings <- rssi:
			default:
			}
		}),
		WithErrorHandler(func(op Op, err error) {
			if op == OpReadRSSI {
				failures <- err
			}
		}),
	)
	s.connect()

	s.Require().NoError(s.session.StartReadingRSSI(time.Millisecond))
	s.True(s.session.IsReadingRSSI())
	select {
	case <-readings:
	case <-time.After(time.Second):
		s.FailNow("no RSSI reading")
	}

	s.dev.SimulateLinkLoss()

	select {
	case err := <-failures:
		s.True(device.IsConnectionState(err, device.NotConnected))
	case <-time.After(time.Second):
		s.FailNow("poller did not report the lost link")
	}
	s.Eventually(func() bool { return !s.session.IsReadingRSSI() }, time.Second, time.Millisecond)

	s.connect()
	for len(readings) > 0 {
		<-readings
	}
	s.Require().NoError(s.session.StartReadingRSSI(time.Millisecond))
	select {
	case rssi := <-readings:
		s.InDelta(fake.DefaultRSSI, rssi, fake.RSSIJitter)
	case <-time.After(time.Second):
		s.FailNow("no RSSI reading after restart")
	}

	s.session.StopReadingRSSI()
	s.False(s.session.IsReadingRSSI())
}

func TestOp_String(t *testing.T) {
	cases := map[Op]string{
		OpReadRSSI:                "read_rssi",
		OpDiscoverServices:        "discover_services",
		OpDiscoverCharacteristics: "discover_characteristics",
		OpUpdateNotificationState: "update_notification_state",
		OpUpdateValue:             "update_value",
		Op(99):                    "unknown",
	}
	for op, want := range cases {
		assert.Equal(t, want, op.String())
	}
}
