package runtime

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"gwmodbus/pkg/runtime/constant"
)

type BitRange struct {
	Start uint8 `json:"start"`
	End   uint8 `json:"end"`
}

// Address is one parsed point descriptor. It is shared through the registry
// cache and must not be modified after parsing.
type Address struct {
	StationNumber uint8             `json:"stationNumber"`
	FunctionCode  uint8             `json:"functionCode"`
	Register      uint16            `json:"register"`
	Address       string            `json:"address"` // 4位补零的寄存器地址
	DataType      constant.DataType `json:"dataType"`
	BitRange      *BitRange         `json:"bitRange,omitempty"`
	NodeStr       string            `json:"nodeStr"`
}

// Location is the register text plus the bit range, if any.
func (a *Address) Location() string {
	if a.BitRange == nil {
		return a.Address
	}
	return fmt.Sprintf("%s:%02d-%02d", a.Address, a.BitRange.Start, a.BitRange.End)
}

func (a *Address) DisplayNameKey() string {
	return fmt.Sprintf("%d_%d_%s", a.StationNumber, a.FunctionCode, a.Location())
}

// Width is the number of registers (or coils) the point occupies.
func (a *Address) Width() uint16 {
	if FunctionCode(a.FunctionCode).IsBitAccess() {
		return 1
	}
	return a.DataType.Word()
}

type ReadWindow struct {
	StationNumber uint8
	FunctionCode  uint8
	StartAddress  uint16
	Length        uint16
	Members       []*Address
}

// ModbusOutput is the decoded value of one point from a batch read.
type ModbusOutput struct {
	Address        *Address    `json:"-"`
	StationNumber  uint8       `json:"stationNumber"`
	FunctionCode   uint8       `json:"functionCode"`
	DisplayNameKey string      `json:"displayNameKey"`
	Value          interface{} `json:"value"`
}

// Frame is a decoded response. IntegrityErr is set when the checksum did not
// match; Payload is still filled in that case.
type Frame struct {
	StationNumber uint8
	FunctionCode  uint8
	Payload       []byte
	IntegrityErr  error
}

type ConnectionConfig struct {
	ModbusType    constant.ModbusType   `json:"modbusType" mapstructure:"ModbusType"`
	ServerUrl     string                `json:"serverUrl" mapstructure:"ServerUrl"` // ip:port 或 串口名
	BaudRate      int                   `json:"baudRate" mapstructure:"BaudRate"`
	DataBits      int                   `json:"dataBits" mapstructure:"DataBits"`
	StopBits      constant.StopBits     `json:"stopBits" mapstructure:"StopBits"`
	Parity        constant.Parity       `json:"parity" mapstructure:"Parity"`
	TimeOut       int                   `json:"timeOut" mapstructure:"TimeOut"` // ms
	EndianFormat  constant.MemoryLayout `json:"endianFormat" mapstructure:"EndianFormat"`
	SleepInterval int                   `json:"sleepInterval" mapstructure:"SleepInterval"` // ms
	BatchSize     int                   `json:"batchSize,omitempty" mapstructure:"BatchSize"`
	RetryCount    int                   `json:"retryCount,omitempty" mapstructure:"RetryCount"`
}

func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ModbusType:    constant.Tcp,
		BaudRate:      9600,
		DataBits:      8,
		StopBits:      constant.OneStopBit,
		Parity:        constant.NoParity,
		TimeOut:       3000,
		EndianFormat:  constant.ABCD,
		SleepInterval: 5000,
		RetryCount:    1,
	}
}

func (c *ConnectionConfig) Timeout() time.Duration {
	if c.TimeOut <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.TimeOut) * time.Millisecond
}

func (c *ConnectionConfig) PollingInterval() time.Duration {
	if c.SleepInterval <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.SleepInterval) * time.Millisecond
}

// SameTransport reports whether both configs open the same kind of handle with
// the same line settings. Polling and batch knobs are not compared.
func (c *ConnectionConfig) SameTransport(o *ConnectionConfig) bool {
	return c.ModbusType == o.ModbusType &&
		c.ServerUrl == o.ServerUrl &&
		c.BaudRate == o.BaudRate &&
		c.DataBits == o.DataBits &&
		c.StopBits == o.StopBits &&
		c.Parity == o.Parity &&
		c.TimeOut == o.TimeOut &&
		c.EndianFormat == o.EndianFormat
}

// DecodeConnectionConfig builds a config from the loosely typed parameter
// dictionary hosts hand over, e.g. {"ModbusType":"Rtu","BaudRate":"19200"}.
// Missing keys keep their defaults.
func DecodeConnectionConfig(serverUrl string, params map[string]interface{}) (*ConnectionConfig, error) {
	config := DefaultConnectionConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       enumDecodeHook,
		WeaklyTypedInput: true,
		Result:           config,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(params); err != nil {
		return nil, errors.Wrapf(err, "decode connection parameters for %s", serverUrl)
	}
	if serverUrl != "" {
		config.ServerUrl = serverUrl
	}
	return config, nil
}

var (
	modbusTypeType   = reflect.TypeOf(constant.ModbusType(0))
	memoryLayoutType = reflect.TypeOf(constant.MemoryLayout(0))
	parityType       = reflect.TypeOf(constant.Parity(0))
	stopBitsType     = reflect.TypeOf(constant.StopBits(0))
)

func enumDecodeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	s := data.(string)
	switch t {
	case modbusTypeType:
		if v, ok := constant.StringToModbusType[s]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("unknown modbus type %s", s)
	case memoryLayoutType:
		if v, ok := constant.StringToMemoryLayout[s]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("unknown memory layout type %s", s)
	case parityType:
		if v, ok := constant.StringToParity[s]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("unknown parity %s", s)
	case stopBitsType:
		if v, ok := constant.StringToStopBits[s]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("unknown stop bits %s", s)
	}
	return data, nil
}
