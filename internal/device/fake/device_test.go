package fake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device"
	"github.com/stretchr/testify/suite"
)

type DeviceTestSuite struct {
	suite.Suite

	ctx     context.Context
	dev     *Device
	hr      *Service
	battery *Service
	hrm     *Characteristic
	level   *Characteristic
}

func TestDeviceTestSuite(t *testing.T) {
	suite.Run(t, new(DeviceTestSuite))
}

func (s *DeviceTestSuite) SetupTest() {
	s.ctx = context.Background()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	s.hr = MustService("180D")
	s.hrm = MustCharacteristic("2A37")
	s.hrm.SetProperties(ble.CharRead | ble.CharNotify)
	s.hrm.SetValue([]byte{0, 90})
	location := MustCharacteristic("2A38")
	location.SetProperties(ble.CharRead)
	s.hr.SetCharacteristics([]*Characteristic{s.hrm, location})

	s.battery = MustService("180F")
	s.level = MustCharacteristic("2A19")
	s.level.SetValue([]byte{100})
	s.Require().NoError(s.battery.AddCharacteristic(s.level))

	s.dev = NewDevice(MustPeripheral("1234"), WithLogger(logger), WithName("HRM"), WithRSSI(-40), WithRandSeed(1))
	s.Require().NoError(s.dev.AddService(s.hr))
	s.Require().NoError(s.dev.AddService(s.battery))
}

func (s *DeviceTestSuite) connect() {
	s.Require().NoError(s.dev.Connect(s.ctx))
}

func (s *DeviceTestSuite) TestConnectDisconnect() {
	var (
		calls int
		cause error
	)
	WithDisconnectHandler(func(_ *Device, err error) {
		calls++
		cause = err
	})(s.dev)

	s.Equal(device.StateDisconnected, s.dev.State())
	s.connect()
	s.Equal(device.StateConnected, s.dev.State())
	s.True(errors.Is(s.dev.Connect(s.ctx), device.ErrAlreadyConnected))

	s.Require().NoError(s.dev.Disconnect())
	s.Equal(device.StateDisconnected, s.dev.State())
	s.Equal(1, calls)
	s.NoError(cause)

	s.True(errors.Is(s.dev.Disconnect(), device.ErrNotConnected))
	s.Equal(1, calls)
}

func (s *DeviceTestSuite) TestConnect_CanceledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.ErrorIs(s.dev.Connect(ctx), context.Canceled)
	s.Equal(device.StateDisconnected, s.dev.State())
}

func (s *DeviceTestSuite) TestOperationsRequireConnection() {
	_, err := s.dev.DiscoverServices(s.ctx, nil)
	s.True(errors.Is(err, device.ErrNotConnected))

	_, err = s.dev.DiscoverCharacteristics(s.ctx, nil, s.hr)
	s.True(errors.Is(err, device.ErrNotConnected))

	_, err = s.dev.ReadValue(s.ctx, s.hrm)
	s.True(errors.Is(err, device.ErrNotConnected))

	s.True(errors.Is(s.dev.WriteValue(s.ctx, s.level, []byte{1}, true), device.ErrNotConnected))
	s.True(errors.Is(s.dev.SetNotifyValue(s.ctx, s.hrm, true, nil), device.ErrNotConnected))

	_, err = s.dev.ReadRSSI(s.ctx)
	s.True(errors.Is(err, device.ErrNotConnected))
}

func (s *DeviceTestSuite) TestDiscoverServices() {
	s.connect()

	all, err := s.dev.DiscoverServices(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Same(s.hr, all[0])
	s.Same(s.battery, all[1])

	filtered, err := s.dev.DiscoverServices(s.ctx, []ble.UUID{device.MustParseUUID("180F")})
	s.Require().NoError(err)
	s.Require().Len(filtered, 1)
	s.Same(s.battery, filtered[0])

	none, err := s.dev.DiscoverServices(s.ctx, []ble.UUID{device.MustParseUUID("FFFF")})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *DeviceTestSuite) TestDiscoverCharacteristics() {
	s.connect()

	chars, err := s.dev.DiscoverCharacteristics(s.ctx, nil, s.hr)
	s.Require().NoError(err)
	s.Require().Len(chars, 2)
	s.Same(s.hrm, chars[0])
	s.Same(s.hr, chars[0].Service())

	chars, err = s.dev.DiscoverCharacteristics(s.ctx, []ble.UUID{device.MustParseUUID("2A38")}, s.hr)
	s.Require().NoError(err)
	s.Require().Len(chars, 1)
	s.True(device.MustParseUUID("2A38").Equal(chars[0].UUID()))
	s.Len(s.hr.List(), 2, "filtering must not mutate the service")

	_, err = s.dev.DiscoverCharacteristics(s.ctx, nil, MustService("AAAA"))
	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal("service", nf.Resource)
}

func (s *DeviceTestSuite) TestReadValue() {
	s.connect()

	data, err := s.dev.ReadValue(s.ctx, s.hrm)
	s.Require().NoError(err)
	s.Equal([]byte{0, 90}, data)

	s.dev.OnRead(s.hrm, func(c *Characteristic) ([]byte, error) {
		return []byte{0, 72}, nil
	})
	data, err = s.dev.ReadValue(s.ctx, s.hrm)
	s.Require().NoError(err)
	s.Equal([]byte{0, 72}, data)
	s.Equal([]byte{0, 72}, s.hrm.Value(), "responder result is stored")

	boom := errors.New("boom")
	s.dev.OnRead(s.hrm, func(c *Characteristic) ([]byte, error) { return nil, boom })
	_, err = s.dev.ReadValue(s.ctx, s.hrm)
	s.ErrorIs(err, boom)
	s.Equal([]byte{0, 72}, s.hrm.Value())
}

func (s *DeviceTestSuite) TestReadValue_NotPermitted() {
	s.connect()
	s.hrm.SetProperties(ble.CharNotify)

	_, err := s.dev.ReadValue(s.ctx, s.hrm)
	s.ErrorIs(err, device.ErrNotPermitted)
}

func (s *DeviceTestSuite) TestReadValue_ForeignCharacteristic() {
	s.connect()

	var nf *device.NotFoundError
	_, err := s.dev.ReadValue(s.ctx, MustCharacteristic("2A37"))
	s.ErrorAs(err, &nf)

	other := MustService("180D")
	stray := MustCharacteristic("2A37")
	s.Require().NoError(other.AddCharacteristic(stray))
	_, err = s.dev.ReadValue(s.ctx, stray)
	s.ErrorAs(err, &nf)
}

func (s *DeviceTestSuite) TestWriteValue() {
	s.connect()

	s.Require().NoError(s.dev.WriteValue(s.ctx, s.level, []byte{42}, true))
	s.Equal([]byte{42}, s.level.Value(), "unhandled writes are stored")

	var got []byte
	var gotResponse bool
	s.dev.OnWrite(s.level, func(c *Characteristic, data []byte, withResponse bool) error {
		got, gotResponse = data, withResponse
		return nil
	})
	s.Require().NoError(s.dev.WriteValue(s.ctx, s.level, []byte{7}, false))
	s.Equal([]byte{7}, got)
	s.False(gotResponse)
	s.Equal([]byte{42}, s.level.Value())
}

func (s *DeviceTestSuite) TestWriteValue_NotPermitted() {
	s.connect()

	err := s.dev.WriteValue(s.ctx, s.hrm, []byte{1}, true)
	s.ErrorIs(err, device.ErrNotPermitted)

	s.hrm.SetProperties(ble.CharWrite)
	s.NoError(s.dev.WriteValue(s.ctx, s.hrm, []byte{1}, true))
	s.ErrorIs(s.dev.WriteValue(s.ctx, s.hrm, []byte{1}, false), device.ErrNotPermitted)
}

func (s *DeviceTestSuite) TestNotifications() {
	s.connect()

	var received [][]byte
	handler := func(c device.Characteristic, data []byte) {
		s.Same(s.hrm, c)
		received = append(received, data)
	}

	s.Require().NoError(s.dev.SendResponse(s.hrm, []byte{1}))
	s.Empty(received, "not notifying yet")
	s.Equal([]byte{1}, s.hrm.Value())

	s.Require().NoError(s.dev.SetNotifyValue(s.ctx, s.hrm, true, handler))
	s.True(s.hrm.IsNotifying())
	s.Require().NoError(s.dev.SendResponse(s.hrm, []byte{2}))
	s.Require().NoError(s.dev.SendResponse(s.hrm, []byte{3}))
	s.Equal([][]byte{{2}, {3}}, received)

	s.Require().NoError(s.dev.SetNotifyValue(s.ctx, s.hrm, false, nil))
	s.False(s.hrm.IsNotifying())
	s.Require().NoError(s.dev.SendResponse(s.hrm, []byte{4}))
	s.Len(received, 2)
	s.Equal([]byte{4}, s.hrm.Value())
}

func (s *DeviceTestSuite) TestNotifications_NotPermitted() {
	s.connect()

	location := s.hr.Characteristic(device.MustParseUUID("2A38"))
	s.Require().NotNil(location)
	s.ErrorIs(s.dev.SetNotifyValue(s.ctx, location, true, nil), device.ErrNotPermitted)
	s.False(location.IsNotifying())
}

func (s *DeviceTestSuite) TestDisconnectDropsSubscriptions() {
	s.connect()
	calls := 0
	s.Require().NoError(s.dev.SetNotifyValue(s.ctx, s.hrm, true, func(device.Characteristic, []byte) { calls++ }))

	s.Require().NoError(s.dev.Disconnect())
	s.False(s.hrm.IsNotifying())

	s.connect()
	s.Require().NoError(s.dev.SendResponse(s.hrm, []byte{1}))
	s.Zero(calls)
}

func (s *DeviceTestSuite) TestSimulateLinkLoss() {
	var cause error
	WithDisconnectHandler(func(_ *Device, err error) { cause = err })(s.dev)

	s.dev.SimulateLinkLoss()
	s.Nil(cause, "no-op while disconnected")

	s.connect()
	s.dev.SimulateLinkLoss()
	s.Equal(device.StateDisconnected, s.dev.State())
	s.True(errors.Is(cause, device.ErrNotConnected))
}

func (s *DeviceTestSuite) TestServiceArena() {
	s.ErrorIs(s.dev.AddService(MustService("180d")), device.ErrDuplicateUUID)

	s.Same(s.battery, s.dev.Service(device.MustParseUUID("180F")))
	s.Same(s.level, s.dev.Characteristic(device.MustParseUUID("2A19")))
	s.Nil(s.dev.Characteristic(device.MustParseUUID("FFFF")))

	s.True(s.dev.RemoveService(device.MustParseUUID("180F")))
	s.False(s.dev.RemoveService(device.MustParseUUID("180F")))
	s.Nil(s.dev.Service(device.MustParseUUID("180F")))
	s.Len(s.dev.Services(), 1)

	s.connect()
	_, err := s.dev.ReadValue(s.ctx, s.level)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *DeviceTestSuite) TestCharacteristicLookupFirstMatch() {
	gap := MustService("1800")
	dup := MustCharacteristic("2A37")
	s.Require().NoError(gap.AddCharacteristic(dup))
	s.Require().NoError(s.dev.AddService(gap))

	s.Same(s.hrm, s.dev.Characteristic(device.MustParseUUID("2A37")))
}

func (s *DeviceTestSuite) TestReadRSSI() {
	s.connect()
	for i := 0; i < 50; i++ {
		rssi, err := s.dev.ReadRSSI(s.ctx)
		s.Require().NoError(err)
		s.GreaterOrEqual(rssi, -40-RSSIJitter)
		s.Less(rssi, -40+RSSIJitter)
	}
}

func (s *DeviceTestSuite) TestAccessors() {
	s.Equal("HRM", s.dev.Name())
	s.Equal(-40, s.dev.RSSI())
	s.Nil(s.dev.ManufacturerData())
	WithManufacturerData([]byte{0x4c, 0x00})(s.dev)
	s.Equal([]byte{0x4c, 0x00}, s.dev.ManufacturerData())
}

func (s *DeviceTestSuite) TestDiscoverServices_128BitFilter() {
	s.connect()

	long := device.MustParseUUID("0000180F-0000-1000-8000-00805F9B34FB")
	found, err := s.dev.DiscoverServices(s.ctx, []ble.UUID{long})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Same(s.battery, found[0])
	s.Same(s.battery, s.dev.Service(long))

	chars, err := s.dev.DiscoverCharacteristics(s.ctx,
		[]ble.UUID{device.MustParseUUID("00002A19-0000-1000-8000-00805F9B34FB")}, found[0])
	s.Require().NoError(err)
	s.Require().Len(chars, 1)
	s.Same(s.level, chars[0])
}

func (s *DeviceTestSuite) TestServiceArena_128BitDuplicate() {
	err := s.dev.AddService(MustService("0000180D-0000-1000-8000-00805F9B34FB"))
	s.ErrorIs(err, device.ErrDuplicateUUID)
	s.ErrorIs(s.dev.AddService(s.hr), device.ErrDuplicateUUID, "same instance twice")
	s.Len(s.dev.Services(), 2)
}

func (s *DeviceTestSuite) TestServiceUUIDChangedAfterAttach() {
	s.battery.SetUUID(device.MustParseUUID("AAAA"))
	s.connect()

	data, err := s.dev.ReadValue(s.ctx, s.level)
	s.Require().NoError(err)
	s.Equal([]byte{100}, data)

	chars, err := s.dev.DiscoverCharacteristics(s.ctx, nil, s.battery)
	s.Require().NoError(err)
	s.Require().Len(chars, 1)
	s.Same(s.level, chars[0])

	s.Same(s.battery, s.dev.Service(device.MustParseUUID("AAAA")))
	s.Nil(s.dev.Service(device.MustParseUUID("180F")))

	s.True(s.dev.RemoveService(device.MustParseUUID("AAAA")))
	_, err = s.dev.ReadValue(s.ctx, s.level)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *DeviceTestSuite) TestReadValue_MovedCharacteristic() {
	s.connect()

	// moving the characteristic to a detached service takes it off the device
	other := MustService("AAAA")
	s.Require().NoError(other.AddCharacteristic(s.level))
	s.Empty(s.battery.List())

	_, err := s.dev.ReadValue(s.ctx, s.level)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *DeviceTestSuite) TestTeardownClearsHandlerlessSubscriptions() {
	for _, drop := range []func(){
		func() { s.Require().NoError(s.dev.Disconnect()) },
		s.dev.SimulateLinkLoss,
	} {
		s.connect()
		s.Require().NoError(s.dev.SetNotifyValue(s.ctx, s.hrm, true, nil))
		s.True(s.hrm.IsNotifying())

		drop()
		s.False(s.hrm.IsNotifying())
	}
}

func (s *DeviceTestSuite) TestReconnectRefused() {
	WithAllowReconnect(false)(s.dev)
	s.False(s.dev.DidDisconnect())

	s.connect()
	s.Require().NoError(s.dev.Disconnect())
	s.True(s.dev.DidDisconnect())

	err := s.dev.Connect(s.ctx)
	s.ErrorIs(err, device.ErrNotPermitted)
	s.Equal(device.StateDisconnected, s.dev.State())

	WithAllowReconnect(true)(s.dev)
	s.connect()
}

func (s *DeviceTestSuite) TestSendResponseAfter() {
	s.connect()

	received := make(chan []byte, 1)
	s.Require().NoError(s.dev.SetNotifyValue(s.ctx, s.hrm, true, func(_ device.Characteristic, data []byte) {
		received <- data
	}))

	payload := []byte{0, 61}
	_, err := s.dev.SendResponseAfter(s.hrm, payload, 5*time.Millisecond)
	s.Require().NoError(err)
	payload[1] = 0xff

	select {
	case data := <-received:
		s.Equal([]byte{0, 61}, data, "payload is copied")
	case <-time.After(time.Second):
		s.Fail("delayed response was not delivered")
	}

	timer, err := s.dev.SendResponseAfter(s.hrm, []byte{1}, time.Hour)
	s.Require().NoError(err)
	s.True(timer.Stop())

	_, err = s.dev.SendResponseAfter(MustCharacteristic("2A37"), []byte{1}, time.Millisecond)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *DeviceTestSuite) TestSimulateLinkLossAfter() {
	causes := make(chan error, 2)
	WithDisconnectHandler(func(_ *Device, err error) { causes <- err })(s.dev)

	s.connect()
	s.dev.SimulateLinkLossAfter(5 * time.Millisecond)

	select {
	case err := <-causes:
		s.True(device.IsConnectionState(err, device.NotConnected))
	case <-time.After(time.Second):
		s.Fail("link loss was not simulated")
	}
	s.Equal(device.StateDisconnected, s.dev.State())
}

func (s *DeviceTestSuite) TestSimulateLinkLossAfter_StaleConnection() {
	s.connect()
	timer := s.dev.SimulateLinkLossAfter(20 * time.Millisecond)
	s.Require().NoError(s.dev.Disconnect())
	s.connect()

	time.Sleep(40 * time.Millisecond)
	s.False(timer.Stop(), "timer has fired")
	s.Equal(device.StateConnected, s.dev.State(), "timer only drops the connection it was set for")
}

func (s *DeviceTestSuite) TestLinkLossAfterEveryConnect() {
	WithLinkLossAfter(5 * time.Millisecond)(s.dev)

	for i := 0; i < 2; i++ {
		s.connect()
		s.Eventually(func() bool {
			return s.dev.State() == device.StateDisconnected
		}, time.Second, time.Millisecond)
	}
}

func (s *DeviceTestSuite) TestConcurrentUse() {
	s.connect()
	s.Require().NoError(s.dev.SetNotifyValue(s.ctx, s.hrm, true, func(device.Characteristic, []byte) {}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.dev.ReadRSSI(s.ctx)
				_, _ = s.dev.DiscoverServices(s.ctx, nil)
				_ = s.dev.SendResponse(s.hrm, []byte{byte(j)})
				_ = s.dev.State()
			}
		}()
	}
	for j := 0; j < 10; j++ {
		s.dev.SimulateLinkLoss()
		_ = s.dev.Connect(s.ctx)
	}
	wg.Wait()
}
