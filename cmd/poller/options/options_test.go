package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	baseoptions "gwmodbus/pkg/generic/options"
	"gwmodbus/pkg/runtime/constant"
)

func TestLoadExampleConfig(t *testing.T) {
	o := NewDefaultOptions()
	require.NoError(t, baseoptions.LoadConfigFile("../config/poller.yaml", o))
	assert.Equal(t, 10*time.Second, o.ReportInterval.Duration)
	assert.Empty(t, validateDevices(o))

	devices, err := o.Config()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	tcp := devices[0].Connection
	assert.Equal(t, constant.Tcp, tcp.ModbusType)
	assert.Equal(t, constant.CDAB, tcp.EndianFormat)
	assert.Equal(t, 100, tcp.BatchSize)
	assert.Equal(t, 5*time.Second, tcp.PollingInterval())

	rtu := devices[1].Connection
	assert.Equal(t, "/dev/ttyUSB0", rtu.ServerUrl)
	assert.Equal(t, constant.Rtu, rtu.ModbusType)
	assert.Equal(t, 19200, rtu.BaudRate)
	assert.Equal(t, constant.EvenParity, rtu.Parity)
	assert.Equal(t, uint8(2), devices[1].Stations[0].Station)
}

func TestValidateDevices(t *testing.T) {
	o := NewDefaultOptions()
	o.ReportInterval.Duration = 0
	o.Devices = append(o.Devices,
		&Device{ServerUrl: "127.0.0.1:502"},
		&Device{ServerUrl: "10.0.0.1:502", Params: map[string]interface{}{"ModbusType": "Udp"}},
		&Device{ServerUrl: "10.0.0.2:502", Stations: []*Station{{Station: 1, Points: []string{"9,0001,Int16"}}}},
	)

	errs := validateDevices(o)
	require.Len(t, errs, 4)
	assert.Equal(t, "reportInterval", errs[0].Field)
	assert.Equal(t, "devices[1].serverUrl", errs[1].Field)
	assert.Equal(t, "devices[2].params", errs[2].Field)
	assert.Equal(t, "devices[3].stations[0].points[0]", errs[3].Field)

	o.Devices = nil
	o.ReportInterval.Duration = time.Second
	assert.Len(t, validateDevices(o), 1)
}

func TestValidateSerialLine(t *testing.T) {
	o := NewDefaultOptions()
	o.Devices = []*Device{
		{ServerUrl: "/dev/ttyUSB0", Params: map[string]interface{}{"ModbusType": "Rtu", "DataBits": 9}},
		{ServerUrl: "/dev/ttyUSB1", Params: map[string]interface{}{"ModbusType": "Ascii", "BaudRate": 0}},
		// line settings are ignored on sockets
		{ServerUrl: "10.0.0.1:502", Params: map[string]interface{}{"ModbusType": "Tcp", "DataBits": 9}},
	}

	errs := validateDevices(o)
	require.Len(t, errs, 2)
	assert.Equal(t, "devices[0].params.DataBits", errs[0].Field)
	assert.Equal(t, "devices[1].params.BaudRate", errs[1].Field)
}
