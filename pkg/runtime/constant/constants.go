package constant

import "errors"

var (
	ErrModbusType         = errors.New("unsupported modbus type")
	ErrConnectDevice      = errors.New("unable to connect to device")
	ErrDeviceServerClosed = errors.New("device server closed")
	ErrConnectBackoff     = errors.New("server recently failed to connect, waiting before retry")
)
