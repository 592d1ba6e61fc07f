package runtime

import (
	"errors"
	"fmt"
)

var ErrModbusBadConn = errors.New("modbus bad connection")
var ErrModbusNotConnected = errors.New("modbus connection not established")
var ErrTimeout = errors.New("modbus response timeout")
var ErrMessageTransaction = errors.New("modbus tcp message transaction not match")
var ErrMessageDataLengthNotEnough = errors.New("modbus message data length not enough")
var ErrMessageFunctionCodeError = errors.New("modbus message function code error")
var ErrMessageSlave = errors.New("modbus message station number not match")
var ErrMessageFraming = errors.New("modbus ascii message framing error")
var ErrCRC16Error = errors.New("CRC16 check failed")
var ErrLRCError = errors.New("LRC check failed")
var ErrSingleRegisterValueLength = errors.New("function code 6 requires exactly 2 value bytes")
var ErrRegisterValueLength = errors.New("register values must be a whole number of words")
var ErrReadOnly = errors.New("function code is read only")
var ErrUnsupportedFunctionCode = errors.New("unsupported function code")

type FunctionCode uint8

const (
	ReadCoilStatus      FunctionCode = 1
	ReadInputStatus     FunctionCode = 2
	ReadHoldRegister    FunctionCode = 3
	ReadInputRegister   FunctionCode = 4
	WriteSingleCoil     FunctionCode = 5
	WriteSingleRegister FunctionCode = 6
	WriteMultiRegister  FunctionCode = 16
)

// IsBitAccess reports whether the function code addresses coils or discrete inputs.
func (fc FunctionCode) IsBitAccess() bool {
	return fc == ReadCoilStatus || fc == ReadInputStatus
}

// Valid reports whether the function code is one this package speaks.
func (fc FunctionCode) Valid() bool {
	return fc.IsRead() || fc == WriteSingleCoil || fc == WriteSingleRegister || fc == WriteMultiRegister
}

func (fc FunctionCode) IsRead() bool {
	return fc >= ReadCoilStatus && fc <= ReadInputRegister
}

const (
	// PerRequestMaxRegister is the register span a batch window may start members in.
	PerRequestMaxRegister = 121
	// MaxRegisterPerRead bounds a single read exchange.
	MaxRegisterPerRead = 125
	// ExceptionFlag is ORed into the function code of an exception reply.
	ExceptionFlag = 0x80
)

const (
	ErrCodeTimeout = 408
)

var ExceptionMessages = map[uint8]string{
	0x01: "illegal function",
	0x02: "illegal data address",
	0x03: "illegal data value",
	0x04: "server device failure",
	0x05: "acknowledge",
	0x06: "server device busy",
	0x08: "memory parity error",
	0x0A: "gateway path unavailable",
	0x0B: "gateway target device failed to respond",
}

// ExceptionError is a Modbus exception reply from the device.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	msg, ok := ExceptionMessages[e.Code]
	if !ok {
		msg = "unknown exception"
	}
	return fmt.Sprintf("modbus exception %d (%s) for function code %d", e.Code, msg, e.FunctionCode)
}
