package model

import (
	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/utils/binutil"
)

// 站号 功能码 起始地址(2) 数量(2)
func readPdu(address uint16, station, functionCode uint8, length uint16) []byte {
	pdu := make([]byte, 6)
	pdu[0] = station
	pdu[1] = functionCode
	binutil.WriteUint16(pdu[2:], address)
	binutil.WriteUint16(pdu[4:], length)
	return pdu
}

func writePdu(address uint16, values []byte, station, functionCode uint8) ([]byte, error) {
	switch modbus.FunctionCode(functionCode) {
	case modbus.WriteSingleRegister:
		// 站号 06 地址(2) 值(2)
		if len(values) != 2 {
			return nil, modbus.ErrSingleRegisterValueLength
		}
		pdu := make([]byte, 6)
		pdu[0] = station
		pdu[1] = functionCode
		binutil.WriteUint16(pdu[2:], address)
		copy(pdu[4:], values)
		return pdu, nil
	case modbus.WriteMultiRegister:
		// 站号 10 地址(2) 寄存器数量(2) 字节数 值...
		if len(values) == 0 || len(values)%2 != 0 || len(values) > 2*123 {
			return nil, modbus.ErrRegisterValueLength
		}
		pdu := make([]byte, 7+len(values))
		pdu[0] = station
		pdu[1] = functionCode
		binutil.WriteUint16(pdu[2:], address)
		binutil.WriteUint16(pdu[4:], uint16(len(values)/2))
		pdu[6] = byte(len(values))
		copy(pdu[7:], values)
		return pdu, nil
	}
	return nil, modbus.ErrUnsupportedFunctionCode
}

// 站号 05 地址(2) FF00/0000
func coilPdu(address uint16, value bool, station, functionCode uint8) []byte {
	pdu := make([]byte, 6)
	pdu[0] = station
	pdu[1] = functionCode
	binutil.WriteUint16(pdu[2:], address)
	if value {
		pdu[4] = 0xFF
	}
	return pdu
}

// responsePduLength is the length of a normal reply, station byte included
// and checksum or header excluded.
func responsePduLength(requestPdu []byte) int {
	if len(requestPdu) < 6 {
		return 0
	}
	quantity := int(binutil.ParseUint16(requestPdu[4:]))
	switch modbus.FunctionCode(requestPdu[1]) {
	case modbus.ReadCoilStatus, modbus.ReadInputStatus:
		return 3 + (quantity+7)/8
	case modbus.ReadHoldRegister, modbus.ReadInputRegister:
		return 3 + quantity*2
	default:
		// 写操作回显地址和值
		return 6
	}
}

func decodePdu(requestPdu, responsePdu []byte) (*modbus.Frame, error) {
	if len(requestPdu) < 2 || len(responsePdu) < 3 {
		return nil, modbus.ErrMessageDataLengthNotEnough
	}
	functionCode := requestPdu[1]
	frame := &modbus.Frame{StationNumber: responsePdu[0], FunctionCode: responsePdu[1]}
	if responsePdu[1] == functionCode|modbus.ExceptionFlag {
		return frame, &modbus.ExceptionError{FunctionCode: functionCode, Code: responsePdu[2]}
	}
	if responsePdu[1] != functionCode {
		return frame, modbus.ErrMessageFunctionCodeError
	}

	switch modbus.FunctionCode(functionCode) {
	case modbus.ReadCoilStatus, modbus.ReadInputStatus, modbus.ReadHoldRegister, modbus.ReadInputRegister:
		byteCount := int(responsePdu[2])
		if len(responsePdu) < 3+byteCount || byteCount < responsePduLength(requestPdu)-3 {
			return frame, modbus.ErrMessageDataLengthNotEnough
		}
		frame.Payload = binutil.Dup(responsePdu[3 : 3+byteCount])
	default:
		if len(responsePdu) < 6 {
			return frame, modbus.ErrMessageDataLengthNotEnough
		}
		frame.Payload = binutil.Dup(responsePdu[2:6])
	}
	return frame, nil
}
