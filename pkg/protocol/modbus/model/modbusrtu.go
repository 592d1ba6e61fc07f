package model

import (
	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/utils/crcutil"
)

const RtuNonDataLength = 5

type ModbusRtu struct {
}

func (m *ModbusRtu) NewMessenger(config *modbus.ConnectionConfig) modbus.Messenger {
	return modbus.NewSerialClient(config)
}

// 01 03 00 02 00 02 65 CB
// 01     设备地址
// 03     功能码
// 00 02  起始地址
// 00 02  寄存器数量(word数量)/线圈数量
// 65 CB  CRC16，低字节在前
func (m *ModbusRtu) ReadCommand(address uint16, station, functionCode uint8, length uint16) []byte {
	return crcutil.AppendCrc16(readPdu(address, station, functionCode, length))
}

func (m *ModbusRtu) WriteCommand(address uint16, values []byte, station, functionCode uint8) ([]byte, error) {
	pdu, err := writePdu(address, values, station, functionCode)
	if err != nil {
		return nil, err
	}
	return crcutil.AppendCrc16(pdu), nil
}

func (m *ModbusRtu) WriteCoilCommand(address uint16, value bool, station, functionCode uint8) []byte {
	return crcutil.AppendCrc16(coilPdu(address, value, station, functionCode))
}

func (m *ModbusRtu) ResponseLength(request []byte) int {
	if len(request) < 2 {
		return 0
	}
	return responsePduLength(request[:len(request)-2]) + 2
}

func (m *ModbusRtu) PrefixLength() int {
	return 2
}

func (m *ModbusRtu) FrameLength(request, prefix []byte) int {
	if len(prefix) >= 2 && prefix[1]&modbus.ExceptionFlag != 0 {
		return RtuNonDataLength
	}
	return m.ResponseLength(request)
}

func (m *ModbusRtu) Decode(request, response []byte) (*modbus.Frame, error) {
	if len(request) < 4 || len(response) < RtuNonDataLength {
		return nil, modbus.ErrMessageDataLengthNotEnough
	}
	var integrityErr error
	if !crcutil.ValidCrc16(response) {
		integrityErr = modbus.ErrCRC16Error
	}
	requestPdu := request[:len(request)-2]
	responsePdu := response[:len(response)-2]
	if responsePdu[0] != requestPdu[0] {
		return &modbus.Frame{StationNumber: responsePdu[0], IntegrityErr: integrityErr}, modbus.ErrMessageSlave
	}
	frame, err := decodePdu(requestPdu, responsePdu)
	if frame != nil {
		frame.IntegrityErr = integrityErr
	}
	return frame, err
}
