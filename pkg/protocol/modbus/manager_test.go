package modbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/runtime/constant"
)

type fakeDevices struct {
	mu      sync.Mutex
	devices []*fakeDevice
	refuse  bool
	gates   map[string]chan struct{}
}

func (f *fakeDevices) newMessenger(config *modbus.ConnectionConfig) modbus.Messenger {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := newFakeDevice(config.ModbusType == constant.Tcp)
	d.connected = false
	d.connectGate = f.gates[config.ServerUrl]
	if f.refuse {
		d.connectErrs = []error{errors.New("connection refused")}
	}
	f.devices = append(f.devices, d)
	return d
}

func (f *fakeDevices) setRefuse(refuse bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refuse = refuse
}

func (f *fakeDevices) last() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[len(f.devices)-1]
}

func (f *fakeDevices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

func newTestManager(t *testing.T) (*Manager, *fakeDevices, *clocktesting.FakeClock) {
	m := NewManager(context.Background())
	devices := &fakeDevices{}
	clock := clocktesting.NewFakeClock(time.Now())
	m.Clock = clock
	m.NewMessenger = devices.newMessenger
	t.Cleanup(func() {
		_ = m.Destroy(context.Background())
	})
	return m, devices, clock
}

func testConfig(serverUrl string) *modbus.ConnectionConfig {
	config := modbus.DefaultConnectionConfig()
	config.ServerUrl = serverUrl
	config.SleepInterval = int(time.Hour / time.Millisecond)
	return config
}

func TestManagerCreateClientSession(t *testing.T) {
	m, devices, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	again, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, 1, devices.count())
	assert.True(t, s.Connected())

	_, err = m.CreateClientSession(ctx, testConfig("10.0.0.2:502"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:502", "10.0.0.2:502"}, m.ServerUrls())

	status, err := m.GetClientSessionStatus("10.0.0.1:502")
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Equal(t, s.ID, status.ID)

	_, err = m.GetClientSessionStatus("10.0.0.9:502")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerConcurrentCreate(t *testing.T) {
	m, devices, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, devices.count())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestManagerSlowConnectDoesNotBlockOtherServers(t *testing.T) {
	m, devices, _ := newTestManager(t)
	ctx := context.Background()
	gate := make(chan struct{})
	devices.gates = map[string]chan struct{}{"10.0.0.1:502": gate}

	slow := make(chan error, 1)
	go func() {
		_, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
		slow <- err
	}()
	require.Eventually(t, func() bool { return devices.count() == 1 }, time.Second, 5*time.Millisecond)

	s, err := m.CreateClientSession(ctx, testConfig("10.0.0.2:502"))
	require.NoError(t, err)
	assert.True(t, s.Connected())
	_, ok := m.Session("10.0.0.1:502")
	assert.False(t, ok)

	close(gate)
	require.NoError(t, <-slow)
	_, ok = m.Session("10.0.0.1:502")
	assert.True(t, ok)
}

func TestManagerConnectBackoff(t *testing.T) {
	m, devices, clock := newTestManager(t)
	ctx := context.Background()
	devices.refuse = true

	_, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	assert.ErrorIs(t, err, constant.ErrConnectDevice)
	_, ok := m.Session("10.0.0.1:502")
	assert.False(t, ok)

	clock.Step(10 * time.Second)
	_, err = m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	assert.ErrorIs(t, err, constant.ErrConnectBackoff)
	assert.Equal(t, 1, devices.count())

	devices.refuse = false
	clock.Step(DefaultConnectRetryInterval)
	s, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	assert.True(t, s.Connected())
	assert.Equal(t, 2, devices.count())
}

func TestManagerSubscriptionAndValues(t *testing.T) {
	m, devices, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	d := devices.last()
	d.mu.Lock()
	d.registers[7] = 42
	d.mu.Unlock()

	addresses, err := m.AddSubscription("10.0.0.1:502", 1, []string{"3,0007,UInt16", "bogus"})
	require.NoError(t, err)
	require.Len(t, addresses, 1)
	// the session's own first poll may still be running
	require.Eventually(t, func() bool { return s.Poll(ctx) }, time.Second, 5*time.Millisecond)

	values, err := m.GetCurrentValues("10.0.0.1:502", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"1_3_0007": uint16(42)}, values)

	_, err = m.AddSubscription("10.0.0.9:502", 1, []string{"3,0007,UInt16"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerWriteValue(t *testing.T) {
	m, devices, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	d := devices.last()

	response := m.WriteValue(ctx, "10.0.0.1:502", &SetRequest{
		Items: []*WriteItem{
			{StationNumber: 1, NodeStr: "3,0010,Int32", Value: "-2"},
			{StationNumber: 1, NodeStr: "4,0010,Int16", Value: "1"},
			{StationNumber: 1, NodeStr: "1,0003,Bool", Value: "true"},
			{StationNumber: 1, NodeStr: "nope", Value: "1"},
		},
		ReadBack: true,
	})
	assert.False(t, response.IsSucceed)
	require.Len(t, response.Results, 4)
	assert.True(t, response.Results[0].Result.IsSucceed)
	assert.Equal(t, int32(-2), response.Results[0].Value)
	assert.False(t, response.Results[1].Result.IsSucceed)
	assert.True(t, response.Results[2].Result.IsSucceed)
	assert.Equal(t, true, response.Results[2].Value)
	assert.False(t, response.Results[3].Result.IsSucceed)
	assert.Contains(t, response.Message, "read only")

	d.mu.Lock()
	assert.Equal(t, uint16(0xFFFF), d.registers[10])
	assert.Equal(t, uint16(0xFFFE), d.registers[11])
	assert.True(t, d.coils[3])
	d.mu.Unlock()

	response = m.WriteValue(ctx, "10.0.0.9:502", &SetRequest{})
	assert.False(t, response.IsSucceed)
	assert.Contains(t, response.Message, ErrSessionNotFound.Error())
}

func TestManagerWriteValueReads(t *testing.T) {
	m, devices, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	d := devices.last()
	d.mu.Lock()
	d.registers[20] = 7
	d.mu.Unlock()

	response := m.WriteValue(ctx, "10.0.0.1:502", &SetRequest{
		Reads: []*ReadItem{
			{StationNumber: 1, NodeStr: "3,0020,UInt16"},
			{StationNumber: 1, NodeStr: "1,0004,Bool"},
		},
	})
	assert.True(t, response.IsSucceed)
	assert.Empty(t, response.Results)
	require.Len(t, response.Reads, 2)
	assert.Equal(t, uint16(7), response.Reads[0].Value)
	assert.Equal(t, false, response.Reads[1].Value)

	response = m.WriteValue(ctx, "10.0.0.1:502", &SetRequest{
		Items: []*WriteItem{{StationNumber: 1, NodeStr: "3,0030,UInt16", Value: "9"}},
		Reads: []*ReadItem{
			{StationNumber: 1, NodeStr: "3,0020,UInt16"},
			{StationNumber: 1, NodeStr: "nope"},
		},
	})
	assert.False(t, response.IsSucceed)
	require.Len(t, response.Results, 1)
	assert.True(t, response.Results[0].Result.IsSucceed)
	assert.Nil(t, response.Results[0].Value)
	require.Len(t, response.Reads, 2)
	assert.True(t, response.Reads[0].Result.IsSucceed)
	assert.Equal(t, uint16(7), response.Reads[0].Value)
	assert.False(t, response.Reads[1].Result.IsSucceed)
	assert.Contains(t, response.Message, "nope")

	d.mu.Lock()
	assert.Equal(t, uint16(9), d.registers[30])
	d.mu.Unlock()
}

func TestManagerReconfigure(t *testing.T) {
	m, devices, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	s.AddAddressInputs(s.Registry.ParseList(1, []string{"3,0001,Int16"}))

	config := testConfig("10.0.0.1:502")
	config.SleepInterval = 2500
	config.BatchSize = 10
	same, err := m.Reconfigure(ctx, config)
	require.NoError(t, err)
	assert.Same(t, s, same)
	assert.Equal(t, 2500*time.Millisecond, same.PollingInterval())
	assert.Equal(t, 10, same.Config().BatchSize)
	assert.Equal(t, 1, devices.count())

	config = testConfig("10.0.0.1:502")
	config.EndianFormat = constant.DCBA
	replaced, err := m.Reconfigure(ctx, config)
	require.NoError(t, err)
	assert.NotSame(t, s, replaced)
	assert.Equal(t, 2, devices.count())
	assert.Equal(t, constant.DCBA, replaced.Config().EndianFormat)
	require.Len(t, replaced.AddressInputs(), 1)
	assert.Equal(t, "3,0001,Int16", replaced.AddressInputs()[0].NodeStr)
	assert.False(t, s.Connected())
}

func TestManagerReconfigureKeepsSubscriptionsOnFailure(t *testing.T) {
	m, devices, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	s.AddAddressInputs(s.Registry.ParseList(1, []string{"3,0001,Int16", "1,0002,Bool"}))

	devices.setRefuse(true)
	config := testConfig("10.0.0.1:502")
	config.EndianFormat = constant.DCBA
	_, err = m.Reconfigure(ctx, config)
	assert.ErrorIs(t, err, constant.ErrConnectDevice)
	_, ok := m.Session("10.0.0.1:502")
	assert.False(t, ok)

	devices.setRefuse(false)
	clock.Step(DefaultConnectRetryInterval)
	replaced, err := m.CreateClientSession(ctx, config)
	require.NoError(t, err)
	inputs := replaced.AddressInputs()
	require.Len(t, inputs, 2)
	assert.Equal(t, "3,0001,Int16", inputs[0].NodeStr)
	assert.Equal(t, "1,0002,Bool", inputs[1].NodeStr)

	// an explicit Remove drops subscriptions still waiting for a session
	devices.setRefuse(true)
	config = testConfig("10.0.0.1:502")
	_, err = m.Reconfigure(ctx, config)
	assert.ErrorIs(t, err, constant.ErrConnectDevice)
	require.NoError(t, m.Remove(ctx, "10.0.0.1:502"))
	devices.setRefuse(false)
	clock.Step(DefaultConnectRetryInterval)
	again, err := m.CreateClientSession(ctx, config)
	require.NoError(t, err)
	assert.Empty(t, again.AddressInputs())
}

func TestManagerRemoveAndDestroy(t *testing.T) {
	m, devices, _ := newTestManager(t)
	ctx := context.Background()
	a, err := m.CreateClientSession(ctx, testConfig("10.0.0.1:502"))
	require.NoError(t, err)
	b, err := m.CreateClientSession(ctx, testConfig("10.0.0.2:502"))
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "10.0.0.1:502"))
	assert.False(t, a.Connected())
	assert.Equal(t, []string{"10.0.0.2:502"}, m.ServerUrls())
	require.NoError(t, m.Remove(ctx, "10.0.0.1:502"))

	require.NoError(t, m.Destroy(ctx))
	assert.False(t, b.Connected())
	assert.Empty(t, m.ServerUrls())
	assert.Equal(t, 2, devices.count())
}
