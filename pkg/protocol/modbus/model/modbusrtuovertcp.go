package model

import (
	modbus "gwmodbus/pkg/protocol/modbus/runtime"
)

// ModbusRtuOverTcp sends RTU frames, CRC included, over a TCP socket.
type ModbusRtuOverTcp struct {
	ModbusRtu
}

func (m *ModbusRtuOverTcp) NewMessenger(config *modbus.ConnectionConfig) modbus.Messenger {
	return modbus.NewTcpClient(config.ServerUrl, config.Timeout())
}
