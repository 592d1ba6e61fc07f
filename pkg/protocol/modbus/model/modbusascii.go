package model

import (
	"encoding/hex"
	"strings"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/utils/crcutil"
)

// AsciiNonDataLength is ':' + station, function code, byte count and LRC as hex + CRLF.
const AsciiNonDataLength = 1 + 2*4 + 2

type ModbusAscii struct {
}

func (m *ModbusAscii) NewMessenger(config *modbus.ConnectionConfig) modbus.Messenger {
	return modbus.NewSerialClient(config)
}

// :010300020002F8\r\n
// :      起始符
// 01 03 00 02 00 02  同RTU
// F8     LRC
// \r\n   结束符
func (m *ModbusAscii) encode(pdu []byte) []byte {
	body := append(pdu, crcutil.Lrc(pdu))
	message := make([]byte, 0, 3+2*len(body))
	message = append(message, ':')
	message = append(message, strings.ToUpper(hex.EncodeToString(body))...)
	return append(message, '\r', '\n')
}

func (m *ModbusAscii) unwrap(frame []byte) ([]byte, error) {
	if len(frame) < 5 || frame[0] != ':' || frame[len(frame)-2] != '\r' || frame[len(frame)-1] != '\n' {
		return nil, modbus.ErrMessageFraming
	}
	body, err := hex.DecodeString(string(frame[1 : len(frame)-2]))
	if err != nil || len(body) < 2 {
		return nil, modbus.ErrMessageFraming
	}
	return body, nil
}

func (m *ModbusAscii) ReadCommand(address uint16, station, functionCode uint8, length uint16) []byte {
	return m.encode(readPdu(address, station, functionCode, length))
}

func (m *ModbusAscii) WriteCommand(address uint16, values []byte, station, functionCode uint8) ([]byte, error) {
	pdu, err := writePdu(address, values, station, functionCode)
	if err != nil {
		return nil, err
	}
	return m.encode(pdu), nil
}

func (m *ModbusAscii) WriteCoilCommand(address uint16, value bool, station, functionCode uint8) []byte {
	return m.encode(coilPdu(address, value, station, functionCode))
}

func (m *ModbusAscii) ResponseLength(request []byte) int {
	body, err := m.unwrap(request)
	if err != nil {
		return 0
	}
	return 1 + 2*(responsePduLength(body[:len(body)-1])+1) + 2
}

func (m *ModbusAscii) PrefixLength() int {
	return 5
}

func (m *ModbusAscii) FrameLength(request, prefix []byte) int {
	if len(prefix) >= 5 {
		if fc, err := hex.DecodeString(string(prefix[3:5])); err == nil && fc[0]&modbus.ExceptionFlag != 0 {
			return AsciiNonDataLength
		}
	}
	return m.ResponseLength(request)
}

func (m *ModbusAscii) Decode(request, response []byte) (*modbus.Frame, error) {
	requestBody, err := m.unwrap(request)
	if err != nil {
		return nil, err
	}
	responseBody, err := m.unwrap(response)
	if err != nil {
		return nil, err
	}
	var integrityErr error
	if !crcutil.ValidLrc(responseBody) {
		integrityErr = modbus.ErrLRCError
	}
	requestPdu := requestBody[:len(requestBody)-1]
	responsePdu := responseBody[:len(responseBody)-1]
	if responsePdu[0] != requestPdu[0] {
		return &modbus.Frame{StationNumber: responsePdu[0], IntegrityErr: integrityErr}, modbus.ErrMessageSlave
	}
	frame, err := decodePdu(requestPdu, responsePdu)
	if frame != nil {
		frame.IntegrityErr = integrityErr
	}
	return frame, err
}
