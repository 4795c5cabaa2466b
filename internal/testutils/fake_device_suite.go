package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device/fake"
	"github.com/stretchr/testify/suite"
)

// FakeDeviceSuite provides a connected simulated device per test.
//
// The default device carries a Battery Service with a readable, notifying
// Battery Level. Configure a different one before calling SetupTest:
//
//	type InspectSuite struct {
//	    testutils.FakeDeviceSuite
//	}
//
//	func (s *InspectSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.FakeDeviceSuite.SetupTest() // call parent last to apply configuration
//	}
type FakeDeviceSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration

	// Device is rebuilt and connected before every test.
	Device *fake.Device
	// Ctx is canceled after TestTimeout or at TearDownTest.
	Ctx context.Context

	builder *PeripheralBuilder
	cancel  context.CancelFunc
}

// WithPeripheral returns the builder used for the next SetupTest.
func (s *FakeDeviceSuite) WithPeripheral() *PeripheralBuilder {
	if s.builder == nil {
		s.builder = NewPeripheralBuilder()
	}
	return s.builder
}

func (s *FakeDeviceSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.TestTimeout == 0 {
		s.TestTimeout = 5 * time.Second
	}
	s.Ctx, s.cancel = context.WithTimeout(context.Background(), s.TestTimeout)

	b := s.builder
	if b == nil {
		b = NewPeripheralBuilder().
			WithName("Battery-Sim").
			WithService("180F").
			WithCharacteristic("2A19", "read,notify", []byte{100})
	}
	s.Device = b.WithOptions(fake.WithLogger(s.Logger), fake.WithRandSeed(1)).Build()
	s.Require().NoError(s.Device.Connect(s.Ctx))
}

func (s *FakeDeviceSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
	}
	s.builder = nil
}
