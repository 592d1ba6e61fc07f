package modbus

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/runtime/constant"
	"gwmodbus/pkg/utils/binutil"
)

// Write writes register values starting at address with function code 6 or
// 16. Code 6 takes exactly two bytes; anything else is rejected before any
// I/O. With byteFormatting the values are rearranged per the endian format.
func (s *Session) Write(ctx context.Context, address string, values []byte, station, functionCode uint8, byteFormatting bool) *modbus.Result {
	result := modbus.NewResult()
	register, _, ok := modbus.ParseLocation(address)
	if !ok {
		return result.Fail(errors.Errorf("invalid address %q", address)).EndTime()
	}
	if byteFormatting {
		values = binutil.ByteFormatting(values, s.config.EndianFormat)
	}
	command, err := s.modeler.WriteCommand(register, values, station, functionCode)
	if err != nil {
		return result.Fail(errors.Wrapf(err, "write address:%s station:%d functionCode:%d", address, station, functionCode)).EndTime()
	}
	return s.finishWrite(ctx, command, address, station, functionCode)
}

// WriteCoil writes one coil with function code 5.
func (s *Session) WriteCoil(ctx context.Context, address string, value bool, station uint8) *modbus.Result {
	result := modbus.NewResult()
	register, _, ok := modbus.ParseLocation(address)
	if !ok {
		return result.Fail(errors.Errorf("invalid address %q", address)).EndTime()
	}
	command := s.modeler.WriteCoilCommand(register, value, station, uint8(modbus.WriteSingleCoil))
	return s.finishWrite(ctx, command, address, station, uint8(modbus.WriteSingleCoil))
}

func (s *Session) finishWrite(ctx context.Context, command []byte, address string, station, functionCode uint8) *modbus.Result {
	sent := s.exchange(ctx, command)
	if !sent.IsSucceed && sent.Exception != nil {
		sent.Err = errors.Wrapf(sent.Exception, "write address:%s station:%d functionCode:%d", address, station, functionCode).Error()
	}
	return sent.Result.EndTime()
}

func (s *Session) WriteInt16(ctx context.Context, address string, value int16, station, functionCode uint8) *modbus.Result {
	return s.Write(ctx, address, binutil.Uint16Bytes(uint16(value)), station, functionCode, true)
}

func (s *Session) WriteUInt16(ctx context.Context, address string, value uint16, station, functionCode uint8) *modbus.Result {
	return s.Write(ctx, address, binutil.Uint16Bytes(value), station, functionCode, true)
}

func (s *Session) WriteInt32(ctx context.Context, address string, value int32, station, functionCode uint8) *modbus.Result {
	return s.Write(ctx, address, binutil.Uint32Bytes(uint32(value)), station, functionCode, true)
}

func (s *Session) WriteUInt32(ctx context.Context, address string, value uint32, station, functionCode uint8) *modbus.Result {
	return s.Write(ctx, address, binutil.Uint32Bytes(value), station, functionCode, true)
}

func (s *Session) WriteInt64(ctx context.Context, address string, value int64, station, functionCode uint8) *modbus.Result {
	return s.Write(ctx, address, binutil.Uint64Bytes(uint64(value)), station, functionCode, true)
}

func (s *Session) WriteUInt64(ctx context.Context, address string, value uint64, station, functionCode uint8) *modbus.Result {
	return s.Write(ctx, address, binutil.Uint64Bytes(value), station, functionCode, true)
}

func (s *Session) WriteFloat(ctx context.Context, address string, value float32, station, functionCode uint8) *modbus.Result {
	return s.Write(ctx, address, binutil.Uint32Bytes(math.Float32bits(value)), station, functionCode, true)
}

func (s *Session) WriteDouble(ctx context.Context, address string, value float64, station, functionCode uint8) *modbus.Result {
	return s.Write(ctx, address, binutil.Uint64Bytes(math.Float64bits(value)), station, functionCode, true)
}

// WriteString writes text as raw bytes, NUL padded to a whole register.
func (s *Session) WriteString(ctx context.Context, address string, value string, station, functionCode uint8) *modbus.Result {
	b := []byte(value)
	if len(b)%2 != 0 {
		b = append(b, 0)
	}
	return s.Write(ctx, address, b, station, functionCode, false)
}

// WriteFunctionCode maps the function code a point is read with to the one
// it is written with. Discrete inputs and input registers are read only.
func WriteFunctionCode(a *modbus.Address) (uint8, error) {
	switch modbus.FunctionCode(a.FunctionCode) {
	case modbus.ReadCoilStatus, modbus.WriteSingleCoil:
		return uint8(modbus.WriteSingleCoil), nil
	case modbus.ReadHoldRegister, modbus.WriteMultiRegister:
		return uint8(modbus.WriteMultiRegister), nil
	case modbus.WriteSingleRegister:
		return uint8(modbus.WriteSingleRegister), nil
	case modbus.ReadInputStatus, modbus.ReadInputRegister:
		return 0, errors.Wrapf(modbus.ErrReadOnly, "function code %d", a.FunctionCode)
	}
	return 0, errors.Wrapf(modbus.ErrUnsupportedFunctionCode, "function code %d", a.FunctionCode)
}

// WritePoint parses value per the point's data type and writes it.
func (s *Session) WritePoint(ctx context.Context, a *modbus.Address, value string) *modbus.Result {
	result := modbus.NewResult()
	fc, err := WriteFunctionCode(a)
	if err != nil {
		return result.Fail(err).EndTime()
	}
	value = strings.TrimSpace(value)

	if fc == uint8(modbus.WriteSingleCoil) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return result.Fail(errors.Wrapf(err, "parse %q as Bool", value)).EndTime()
		}
		return s.WriteCoil(ctx, a.Address, b, a.StationNumber)
	}

	var raw []byte
	switch a.DataType {
	case constant.Bool:
		b, perr := strconv.ParseBool(value)
		err = perr
		if b {
			raw = binutil.Uint16Bytes(1)
		} else {
			raw = binutil.Uint16Bytes(0)
		}
	case constant.Byte:
		var v uint64
		v, err = strconv.ParseUint(value, 10, 8)
		raw = binutil.Uint16Bytes(uint16(v))
	case constant.Int16:
		var v int64
		v, err = strconv.ParseInt(value, 10, 16)
		raw = binutil.Uint16Bytes(uint16(v))
	case constant.UInt16:
		var v uint64
		v, err = strconv.ParseUint(value, 10, 16)
		raw = binutil.Uint16Bytes(uint16(v))
	case constant.Int32:
		var v int64
		v, err = strconv.ParseInt(value, 10, 32)
		raw = binutil.Uint32Bytes(uint32(v))
	case constant.UInt32:
		var v uint64
		v, err = strconv.ParseUint(value, 10, 32)
		raw = binutil.Uint32Bytes(uint32(v))
	case constant.Int64:
		var v int64
		v, err = strconv.ParseInt(value, 10, 64)
		raw = binutil.Uint64Bytes(uint64(v))
	case constant.UInt64:
		var v uint64
		v, err = strconv.ParseUint(value, 10, 64)
		raw = binutil.Uint64Bytes(v)
	case constant.Float:
		var v float64
		v, err = strconv.ParseFloat(value, 32)
		raw = binutil.Uint32Bytes(math.Float32bits(float32(v)))
	case constant.Double:
		var v float64
		v, err = strconv.ParseFloat(value, 64)
		raw = binutil.Uint64Bytes(math.Float64bits(v))
	default:
		return result.Fail(errors.Errorf("points of type %s are not writable", a.DataType)).EndTime()
	}
	if err != nil {
		return result.Fail(errors.Wrapf(err, "parse %q as %s", value, a.DataType)).EndTime()
	}
	return s.Write(ctx, a.Address, raw, a.StationNumber, fc, true)
}
