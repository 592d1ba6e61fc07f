package modbus

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/runtime/constant"
	"gwmodbus/pkg/utils/binutil"
)

// Reader performs one windowed read and returns the raw payload.
type Reader interface {
	Read(ctx context.Context, address string, station, functionCode uint8, length uint16, byteFormatting bool) *modbus.ValueResult[[]byte]
}

// Group is the set of points sharing a function code and station.
type Group struct {
	StationNumber uint8
	FunctionCode  uint8
	Addresses     []*modbus.Address
}

type groupKey struct {
	functionCode  uint8
	stationNumber uint8
}

// GroupAddresses groups by function code and station in first-seen order,
// drops duplicate locations and sorts each group by register.
func GroupAddresses(addresses []*modbus.Address) []*Group {
	groups := make([]*Group, 0)
	index := make(map[groupKey]*Group)
	seen := make(map[groupKey]sets.Set[string])
	for _, a := range addresses {
		if a == nil {
			continue
		}
		key := groupKey{functionCode: a.FunctionCode, stationNumber: a.StationNumber}
		g, ok := index[key]
		if !ok {
			g = &Group{StationNumber: a.StationNumber, FunctionCode: a.FunctionCode}
			index[key] = g
			seen[key] = sets.New[string]()
			groups = append(groups, g)
		}
		if seen[key].Has(a.Location()) {
			continue
		}
		seen[key].Insert(a.Location())
		g.Addresses = append(g.Addresses, a)
	}
	for _, g := range groups {
		sort.SliceStable(g.Addresses, func(i, j int) bool {
			return g.Addresses[i].Register < g.Addresses[j].Register
		})
	}
	return groups
}

// PlanWindows splits a sorted group into reads. A window takes every point
// starting within PerRequestMaxRegister of its first register and is long
// enough to cover the widest of them.
func PlanWindows(g *Group) []*modbus.ReadWindow {
	windows := make([]*modbus.ReadWindow, 0)
	for i := 0; i < len(g.Addresses); {
		start := uint32(g.Addresses[i].Register)
		end := start
		members := make([]*modbus.Address, 0)
		for ; i < len(g.Addresses) && uint32(g.Addresses[i].Register) <= start+modbus.PerRequestMaxRegister; i++ {
			a := g.Addresses[i]
			if e := uint32(a.Register) + uint32(a.Width()); e > end {
				end = e
			}
			members = append(members, a)
		}
		windows = append(windows, &modbus.ReadWindow{
			StationNumber: g.StationNumber,
			FunctionCode:  g.FunctionCode,
			StartAddress:  uint16(start),
			Length:        uint16(end - start),
			Members:       members,
		})
	}
	return windows
}

type Planner struct {
	Reader       Reader
	MemoryLayout constant.MemoryLayout
	WarningLog   WarningLog
}

// BatchRead reads every address, rerunning the whole pass while it fails, at
// most retryCount more times.
func (p *Planner) BatchRead(ctx context.Context, addresses []*modbus.Address, retryCount int) *modbus.ValueResult[[]*modbus.ModbusOutput] {
	var result *modbus.ValueResult[[]*modbus.ModbusOutput]
	for attempt := 0; attempt <= retryCount; attempt++ {
		if attempt > 0 {
			p.warn(fmt.Sprintf("Batch read failed, retrying %d/%d: %s", attempt, retryCount, result.Err), result.Exception)
		}
		result = p.batchRead(ctx, addresses)
		if result.IsSucceed || ctx.Err() != nil {
			break
		}
	}
	return result
}

func (p *Planner) batchRead(ctx context.Context, addresses []*modbus.Address) *modbus.ValueResult[[]*modbus.ModbusOutput] {
	result := modbus.NewValueResult[[]*modbus.ModbusOutput]()
	result.Value = make([]*modbus.ModbusOutput, 0, len(addresses))
	for _, g := range GroupAddresses(addresses) {
		for _, w := range PlanWindows(g) {
			outputs, r := p.readWindow(ctx, w)
			if !r.IsSucceed {
				klog.V(2).InfoS("Failed to read window, skipping rest of group", "station", w.StationNumber,
					"functionCode", w.FunctionCode, "start", w.StartAddress, "length", w.Length, "error", r.Err)
				result.SetErrInfo(r)
				break
			}
			result.Value = append(result.Value, outputs...)
		}
	}
	return result.EndTime()
}

func (p *Planner) readWindow(ctx context.Context, w *modbus.ReadWindow) ([]*modbus.ModbusOutput, *modbus.Result) {
	raw := p.Reader.Read(ctx, fmt.Sprintf("%04d", w.StartAddress), w.StationNumber, w.FunctionCode, w.Length, false)
	if !raw.IsSucceed {
		return nil, &raw.Result
	}

	var coils []bool
	if modbus.FunctionCode(w.FunctionCode).IsBitAccess() {
		n := int(w.Length)
		if n > len(raw.Value)*8 {
			n = len(raw.Value) * 8
		}
		coils = binutil.ExpandBool(raw.Value, n)
	}
	outputs := make([]*modbus.ModbusOutput, 0, len(w.Members))
	for _, a := range w.Members {
		value, err := p.demux(w, a, raw.Value, coils)
		if err != nil {
			r := modbus.NewResult()
			r.Request = raw.Request
			r.Response = raw.Response
			return nil, r.Fail(err)
		}
		outputs = append(outputs, &modbus.ModbusOutput{
			Address:        a,
			StationNumber:  a.StationNumber,
			FunctionCode:   a.FunctionCode,
			DisplayNameKey: a.DisplayNameKey(),
			Value:          value,
		})
	}
	return outputs, &raw.Result
}

// demux extracts one member from the window payload. coils holds the
// expanded payload of bit access windows.
func (p *Planner) demux(w *modbus.ReadWindow, a *modbus.Address, payload []byte, coils []bool) (interface{}, error) {
	offset := int(a.Register - w.StartAddress)
	if modbus.FunctionCode(w.FunctionCode).IsBitAccess() {
		if offset >= len(coils) {
			return nil, errors.Wrapf(modbus.ErrMessageDataLengthNotEnough, "coil %s", a.Location())
		}
		return coils[offset], nil
	}
	start := offset * 2
	end := start + int(a.Width())*2
	if end > len(payload) {
		return nil, errors.Wrapf(modbus.ErrMessageDataLengthNotEnough, "register %s", a.Location())
	}
	return DecodeRegisterValue(a, payload[start:end], p.MemoryLayout)
}

// DecodeRegisterValue converts the registers of one point, in network order,
// to its Go value. 32 and 64 bit values are rearranged per layout first.
func DecodeRegisterValue(a *modbus.Address, raw []byte, layout constant.MemoryLayout) (interface{}, error) {
	if len(raw) < int(a.DataType.Word())*2 {
		return nil, errors.Wrapf(modbus.ErrMessageDataLengthNotEnough, "decode %s as %s", a.Location(), a.DataType)
	}
	switch a.DataType {
	case constant.Bool:
		word := binutil.ParseUint16(raw)
		if a.BitRange != nil {
			return binutil.ExtractBits(word, a.BitRange.Start, a.BitRange.End, true) != 0, nil
		}
		return word != 0, nil
	case constant.Byte:
		return raw[1], nil
	case constant.Int16:
		return int16(binutil.ParseUint16(raw)), nil
	case constant.UInt16:
		return binutil.ParseUint16(raw), nil
	case constant.Int32:
		return int32(binutil.ParseUint32(binutil.ByteFormatting(raw[:4], layout))), nil
	case constant.UInt32:
		return binutil.ParseUint32(binutil.ByteFormatting(raw[:4], layout)), nil
	case constant.Float:
		return binutil.ParseFloat32(binutil.ByteFormatting(raw[:4], layout)), nil
	case constant.Int64:
		return int64(binutil.ParseUint64(binutil.ByteFormatting(raw[:8], layout))), nil
	case constant.UInt64:
		return binutil.ParseUint64(binutil.ByteFormatting(raw[:8], layout)), nil
	case constant.Double:
		return binutil.ParseFloat64(binutil.ByteFormatting(raw[:8], layout)), nil
	case constant.Int16Bit, constant.UInt16Bit:
		bits := a.BitRange
		if bits == nil {
			bits = &modbus.BitRange{Start: 0, End: 15}
		}
		v := binutil.ExtractBits(binutil.ParseUint16(raw), bits.Start, bits.End, true)
		if a.DataType == constant.Int16Bit {
			return int16(v), nil
		}
		return v, nil
	}
	return nil, errors.Errorf("unsupported data type %s", a.DataType)
}

func (p *Planner) warn(msg string, err error) {
	if p.WarningLog != nil {
		p.WarningLog(msg, err)
		return
	}
	klog.InfoS(msg, "error", err)
}
