package model

import (
	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/runtime/constant"
)

var _ ModbusModeler = (*ModbusTcp)(nil)
var _ ModbusModeler = (*ModbusRtu)(nil)
var _ ModbusModeler = (*ModbusAscii)(nil)
var _ ModbusModeler = (*ModbusRtuOverTcp)(nil)

var ModbusModelers = map[constant.ModbusType]ModbusModeler{
	constant.Tcp:        &ModbusTcp{},
	constant.Rtu:        &ModbusRtu{},
	constant.Ascii:      &ModbusAscii{},
	constant.RtuOverTcp: &ModbusRtuOverTcp{},
}

// ModbusModeler encodes requests and decodes responses for one transport.
// Implementations are stateless and shared between sessions.
type ModbusModeler interface {
	ReadCommand(address uint16, station, functionCode uint8, length uint16) []byte
	// WriteCommand builds a function code 6 or 16 request. Code 6 needs exactly
	// two value bytes and is rejected otherwise.
	WriteCommand(address uint16, values []byte, station, functionCode uint8) ([]byte, error)
	WriteCoilCommand(address uint16, value bool, station, functionCode uint8) []byte
	// ResponseLength is the length of a normal reply to request.
	ResponseLength(request []byte) int
	// PrefixLength is how many reply bytes are needed to tell a normal reply
	// from an exception reply.
	PrefixLength() int
	// FrameLength is the full reply length once the prefix has been read.
	FrameLength(request, prefix []byte) int
	// Decode validates response against request and extracts the payload.
	// A checksum mismatch is reported in Frame.IntegrityErr, not as error.
	Decode(request, response []byte) (*modbus.Frame, error)
	NewMessenger(config *modbus.ConnectionConfig) modbus.Messenger
}

func NewModeler(modbusType constant.ModbusType) (ModbusModeler, error) {
	m, ok := ModbusModelers[modbusType]
	if !ok {
		return nil, constant.ErrModbusType
	}
	return m, nil
}
