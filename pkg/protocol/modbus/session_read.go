package modbus

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/utils/binutil"
)

const maxCoilsPerRead = 2000

// Read reads length registers (or coils for function codes 1 and 2) starting
// at address. With byteFormatting the payload is rearranged per the session's
// endian format.
func (s *Session) Read(ctx context.Context, address string, station, functionCode uint8, length uint16, byteFormatting bool) *modbus.ValueResult[[]byte] {
	result := modbus.NewValueResult[[]byte]()
	register, _, ok := modbus.ParseLocation(address)
	if !ok {
		return result.Fail(errors.Errorf("invalid address %q", address)).EndTime()
	}
	fc := modbus.FunctionCode(functionCode)
	if !fc.IsRead() {
		return result.Fail(errors.Wrapf(modbus.ErrUnsupportedFunctionCode, "read with function code %d", functionCode)).EndTime()
	}
	limit := uint16(modbus.MaxRegisterPerRead)
	if fc.IsBitAccess() {
		limit = maxCoilsPerRead
	}
	if length == 0 || length > limit {
		return result.Fail(errors.Errorf("read length %d out of range 1-%d", length, limit)).EndTime()
	}

	command := s.modeler.ReadCommand(register, station, functionCode, length)
	result = s.exchange(ctx, command)
	if !result.IsSucceed {
		result.Err = errors.Wrapf(result.Exception, "read address:%s station:%d functionCode:%d", address, station, functionCode).Error()
	}
	if byteFormatting && result.Value != nil {
		result.Value = binutil.ByteFormatting(result.Value, s.config.EndianFormat)
	}
	return result.EndTime()
}

// readAs reads length registers and decodes them with decode. The value is
// filled whenever the payload is long enough, even after a checksum failure.
func readAs[T any](ctx context.Context, s *Session, address string, station, functionCode uint8, length uint16, decode func([]byte) T) *modbus.ValueResult[T] {
	raw := s.Read(ctx, address, station, functionCode, length, true)
	result := modbus.Carry[T](raw)
	need := int(length) * 2
	if modbus.FunctionCode(functionCode).IsBitAccess() {
		need = (int(length) + 7) / 8
	}
	if len(raw.Value) >= need {
		result.Value = decode(raw.Value)
	} else if raw.IsSucceed {
		result.Fail(modbus.ErrMessageDataLengthNotEnough)
	}
	return result.EndTime()
}

func (s *Session) ReadInt16(ctx context.Context, address string, station, functionCode uint8) *modbus.ValueResult[int16] {
	return readAs(ctx, s, address, station, functionCode, 1, func(b []byte) int16 { return int16(binutil.ParseUint16(b)) })
}

func (s *Session) ReadUInt16(ctx context.Context, address string, station, functionCode uint8) *modbus.ValueResult[uint16] {
	return readAs(ctx, s, address, station, functionCode, 1, binutil.ParseUint16)
}

func (s *Session) ReadInt32(ctx context.Context, address string, station, functionCode uint8) *modbus.ValueResult[int32] {
	return readAs(ctx, s, address, station, functionCode, 2, func(b []byte) int32 { return int32(binutil.ParseUint32(b)) })
}

func (s *Session) ReadUInt32(ctx context.Context, address string, station, functionCode uint8) *modbus.ValueResult[uint32] {
	return readAs(ctx, s, address, station, functionCode, 2, binutil.ParseUint32)
}

func (s *Session) ReadInt64(ctx context.Context, address string, station, functionCode uint8) *modbus.ValueResult[int64] {
	return readAs(ctx, s, address, station, functionCode, 4, func(b []byte) int64 { return int64(binutil.ParseUint64(b)) })
}

func (s *Session) ReadUInt64(ctx context.Context, address string, station, functionCode uint8) *modbus.ValueResult[uint64] {
	return readAs(ctx, s, address, station, functionCode, 4, binutil.ParseUint64)
}

func (s *Session) ReadFloat(ctx context.Context, address string, station, functionCode uint8) *modbus.ValueResult[float32] {
	return readAs(ctx, s, address, station, functionCode, 2, binutil.ParseFloat32)
}

func (s *Session) ReadDouble(ctx context.Context, address string, station, functionCode uint8) *modbus.ValueResult[float64] {
	return readAs(ctx, s, address, station, functionCode, 4, binutil.ParseFloat64)
}

// ReadCoil reads one coil (function code 1).
func (s *Session) ReadCoil(ctx context.Context, address string, station uint8) *modbus.ValueResult[bool] {
	return readAs(ctx, s, address, station, uint8(modbus.ReadCoilStatus), 1, func(b []byte) bool { return b[0]&0x01 == 1 })
}

// ReadDiscrete reads one discrete input (function code 2).
func (s *Session) ReadDiscrete(ctx context.Context, address string, station uint8) *modbus.ValueResult[bool] {
	return readAs(ctx, s, address, station, uint8(modbus.ReadInputStatus), 1, func(b []byte) bool { return b[0]&0x01 == 1 })
}

// ReadString reads length registers as text, trailing NULs removed.
func (s *Session) ReadString(ctx context.Context, address string, station, functionCode uint8, length uint16) *modbus.ValueResult[string] {
	raw := s.Read(ctx, address, station, functionCode, length, false)
	result := modbus.Carry[string](raw)
	result.Value = string(bytes.TrimRight(raw.Value, "\x00"))
	return result.EndTime()
}

// ReadUInt16Bit reads the register named by address and returns the bit range
// it carries, e.g. "0001:03-07". Without a range the whole word is returned.
// With left set bit positions count from the most significant bit.
func (s *Session) ReadUInt16Bit(ctx context.Context, address string, station, functionCode uint8, left bool) *modbus.ValueResult[uint16] {
	_, bits, ok := modbus.ParseLocation(address)
	if !ok {
		result := modbus.NewValueResult[uint16]()
		return result.Fail(errors.Errorf("invalid address %q", address)).EndTime()
	}
	if bits == nil {
		bits = &modbus.BitRange{Start: 0, End: 15}
	}
	return readAs(ctx, s, address, station, functionCode, 1, func(b []byte) uint16 {
		return binutil.ExtractBits(binutil.ParseUint16(b), bits.Start, bits.End, left)
	})
}

func (s *Session) ReadInt16Bit(ctx context.Context, address string, station, functionCode uint8, left bool) *modbus.ValueResult[int16] {
	raw := s.ReadUInt16Bit(ctx, address, station, functionCode, left)
	result := modbus.Carry[int16](raw)
	result.Value = int16(raw.Value)
	return result.EndTime()
}

// ReadPoint reads a single parsed point and decodes it by its data type.
func (s *Session) ReadPoint(ctx context.Context, a *modbus.Address) *modbus.ValueResult[interface{}] {
	if modbus.FunctionCode(a.FunctionCode).IsBitAccess() {
		raw := s.Read(ctx, a.Address, a.StationNumber, a.FunctionCode, 1, false)
		result := modbus.Carry[interface{}](raw)
		if len(raw.Value) > 0 {
			result.Value = raw.Value[0]&0x01 == 1
		}
		return result.EndTime()
	}

	raw := s.Read(ctx, a.Address, a.StationNumber, a.FunctionCode, a.Width(), false)
	result := modbus.Carry[interface{}](raw)
	if len(raw.Value) > 0 {
		value, err := DecodeRegisterValue(a, raw.Value, s.config.EndianFormat)
		if err != nil {
			return result.Fail(err).EndTime()
		}
		result.Value = value
	}
	return result.EndTime()
}

// BatchRead reads many points with as few exchanges as possible.
func (s *Session) BatchRead(ctx context.Context, addresses []*modbus.Address, retryCount int) *modbus.ValueResult[[]*modbus.ModbusOutput] {
	return s.planner.BatchRead(ctx, addresses, retryCount)
}
