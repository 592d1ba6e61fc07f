package model

import (
	"go.uber.org/atomic"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/utils/binutil"
	"gwmodbus/pkg/utils/randutil"
)

const TcpNonDataLength = 9

const tcpHeaderLength = 6

var tagSeed = atomic.NewInt64(randutil.Int63n())

type ModbusTcp struct {
}

func (m *ModbusTcp) NewMessenger(config *modbus.ConnectionConfig) modbus.Messenger {
	return modbus.NewTcpClient(config.ServerUrl, config.Timeout())
}

// 00 01 00 00 00 06 18 03 00 02 00 02
// 00 01  事务标识符，每次请求随机生成，响应必须原样返回
// 00 00  协议标识符，00 00为modbus协议
// 00 06  数据长度，用来指示接下来数据的长度，单位字节
// 18     设备地址
// 03     功能码
// 00 02  起始地址
// 00 02  寄存器数量(word数量)/线圈数量
func (m *ModbusTcp) frame(pdu []byte) []byte {
	message := make([]byte, tcpHeaderLength+len(pdu))
	tag := randutil.Tag(tagSeed.Inc())
	message[0] = tag[0]
	message[1] = tag[1]
	binutil.WriteUint16(message[4:], uint16(len(pdu)))
	copy(message[tcpHeaderLength:], pdu)
	return message
}

func (m *ModbusTcp) ReadCommand(address uint16, station, functionCode uint8, length uint16) []byte {
	return m.frame(readPdu(address, station, functionCode, length))
}

func (m *ModbusTcp) WriteCommand(address uint16, values []byte, station, functionCode uint8) ([]byte, error) {
	pdu, err := writePdu(address, values, station, functionCode)
	if err != nil {
		return nil, err
	}
	return m.frame(pdu), nil
}

func (m *ModbusTcp) WriteCoilCommand(address uint16, value bool, station, functionCode uint8) []byte {
	return m.frame(coilPdu(address, value, station, functionCode))
}

func (m *ModbusTcp) ResponseLength(request []byte) int {
	if len(request) < tcpHeaderLength {
		return 0
	}
	return tcpHeaderLength + responsePduLength(request[tcpHeaderLength:])
}

func (m *ModbusTcp) PrefixLength() int {
	return tcpHeaderLength + 2
}

func (m *ModbusTcp) FrameLength(request, prefix []byte) int {
	if len(prefix) >= 8 && prefix[7]&modbus.ExceptionFlag != 0 {
		return TcpNonDataLength
	}
	return m.ResponseLength(request)
}

func (m *ModbusTcp) Decode(request, response []byte) (*modbus.Frame, error) {
	if len(request) < tcpHeaderLength+2 || len(response) < TcpNonDataLength {
		return nil, modbus.ErrMessageDataLengthNotEnough
	}
	if request[0] != response[0] || request[1] != response[1] {
		return nil, modbus.ErrMessageTransaction
	}
	return decodePdu(request[tcpHeaderLength:], response[tcpHeaderLength:])
}
