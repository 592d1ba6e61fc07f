package options

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	baseoptions "gwmodbus/pkg/generic/options"
	modbus "gwmodbus/pkg/protocol/modbus/runtime"
)

type Options struct {
	// ReportInterval is how often the current values of every device are logged.
	ReportInterval metav1.Duration `json:"reportInterval"`
	// ConnectInterval is how often servers without a session are tried again.
	ConnectInterval metav1.Duration `json:"connectInterval"`
	Wait            metav1.Duration `json:"graceful-timeout"`
	Devices         []*Device       `json:"devices"`
	baseoptions.BaseOptions
}

// Device is one Modbus server and the points polled from it. Params takes the
// same keys as the connection parameter dictionary, e.g. ModbusType,
// EndianFormat, BaudRate, TimeOut, SleepInterval.
type Device struct {
	ServerUrl string                 `json:"serverUrl"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Stations  []*Station             `json:"stations"`
}

type Station struct {
	Station uint8    `json:"station"`
	Points  []string `json:"points"`
}

// DeviceConfig is a Device with its parameters decoded.
type DeviceConfig struct {
	Connection *modbus.ConnectionConfig
	Stations   []*Station
}

const (
	_defaultReportInterval  = 10 * time.Second
	_defaultConnectInterval = 30 * time.Second
	_defaultWait            = 15 * time.Second
)

func NewDefaultOptions() *Options {
	return &Options{
		ReportInterval:  metav1.Duration{Duration: _defaultReportInterval},
		ConnectInterval: metav1.Duration{Duration: _defaultConnectInterval},
		Wait:            metav1.Duration{Duration: _defaultWait},
		Devices: []*Device{{
			ServerUrl: "127.0.0.1:502",
			Params: map[string]interface{}{
				"ModbusType":    "Tcp",
				"EndianFormat":  "ABCD",
				"TimeOut":       3000,
				"SleepInterval": 5000,
			},
			Stations: []*Station{{Station: 1, Points: []string{"3,0000,UInt16"}}},
		}},
		BaseOptions: baseoptions.NewDefaultBaseOptions(),
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&o.ReportInterval.Duration, "report-interval", o.ReportInterval.Duration, "How often the current point values are logged - e.g. 10s or 1m")
	fs.DurationVar(&o.ConnectInterval.Duration, "connect-interval", o.ConnectInterval.Duration, "How often unreachable servers are tried again")
	fs.DurationVar(&o.Wait.Duration, "graceful-timeout", o.Wait.Duration, "The duration for which the poller waits for in flight exchanges to finish on shutdown")
}

// Config decodes the connection parameters of every device.
func (o *Options) Config() ([]*DeviceConfig, error) {
	configs := make([]*DeviceConfig, 0, len(o.Devices))
	for _, d := range o.Devices {
		connection, err := modbus.DecodeConnectionConfig(d.ServerUrl, d.Params)
		if err != nil {
			return nil, errors.Wrapf(err, "device %s", d.ServerUrl)
		}
		configs = append(configs, &DeviceConfig{Connection: connection, Stations: d.Stations})
	}
	return configs, nil
}
