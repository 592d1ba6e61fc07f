package modbus

import (
	"context"
	"sync"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/utils/binutil"
	"gwmodbus/pkg/utils/crcutil"
)

var _ modbus.Messenger = (*fakeDevice)(nil)

// fakeDevice is an in-memory Modbus server speaking TCP or RTU framing.
type fakeDevice struct {
	mu sync.Mutex

	tcp       bool
	station   uint8
	registers map[uint16]uint16
	coils     map[uint16]bool

	connected   bool
	connects    int
	closes      int
	connectErrs []error
	writeErrs   []error
	corruptTag  bool
	corruptCrc  bool
	exception   uint8
	requests    [][]byte
	pending     []byte
	inflight    int
	maxInflight int
	// connectGate, when set, holds Connect until it is closed.
	connectGate chan struct{}
}

func newFakeDevice(tcp bool) *fakeDevice {
	return &fakeDevice{
		tcp:       tcp,
		station:   1,
		registers: make(map[uint16]uint16),
		coils:     make(map[uint16]bool),
		connected: true,
	}
}

func (d *fakeDevice) Connect(ctx context.Context) error {
	if d.connectGate != nil {
		select {
		case <-d.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	d.connected = false
	if len(d.connectErrs) > 0 {
		err := d.connectErrs[0]
		if len(d.connectErrs) > 1 {
			d.connectErrs = d.connectErrs[1:]
		}
		if err != nil {
			return err
		}
	}
	d.connected = true
	return nil
}

func (d *fakeDevice) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.connected = false
	d.pending = nil
	return nil
}

func (d *fakeDevice) Write(request []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, binutil.Dup(request))
	if !d.connected {
		return modbus.ErrModbusNotConnected
	}
	if len(d.writeErrs) > 0 {
		err := d.writeErrs[0]
		d.writeErrs = d.writeErrs[1:]
		return err
	}
	d.inflight++
	if d.inflight > d.maxInflight {
		d.maxInflight = d.inflight
	}
	d.pending = d.respond(request)
	return nil
}

func (d *fakeDevice) ReadFull(response []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) < len(response) {
		d.pending = nil
		d.inflight = 0
		return modbus.ErrTimeout
	}
	copy(response, d.pending)
	d.pending = d.pending[len(response):]
	if len(d.pending) == 0 {
		d.inflight--
	}
	return nil
}

func (d *fakeDevice) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDevice) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func (d *fakeDevice) respond(request []byte) []byte {
	var pdu []byte
	if d.tcp {
		pdu = request[6:]
	} else {
		pdu = request[:len(request)-2]
	}
	resp := d.process(pdu)
	if d.tcp {
		frame := make([]byte, 6+len(resp))
		frame[0], frame[1] = request[0], request[1]
		if d.corruptTag {
			frame[0] ^= 0xFF
		}
		binutil.WriteUint16(frame[4:], uint16(len(resp)))
		copy(frame[6:], resp)
		return frame
	}
	frame := crcutil.AppendCrc16(resp)
	if d.corruptCrc {
		frame[len(frame)-1] ^= 0xFF
	}
	return frame
}

func (d *fakeDevice) process(pdu []byte) []byte {
	station, fc := pdu[0], pdu[1]
	if d.exception != 0 {
		return []byte{station, fc | modbus.ExceptionFlag, d.exception}
	}
	address := binutil.ParseUint16(pdu[2:])
	switch modbus.FunctionCode(fc) {
	case modbus.ReadCoilStatus, modbus.ReadInputStatus:
		quantity := binutil.ParseUint16(pdu[4:])
		data := make([]byte, (quantity+7)/8)
		for i := uint16(0); i < quantity; i++ {
			if d.coils[address+i] {
				data[i/8] |= 1 << (i % 8)
			}
		}
		return append([]byte{station, fc, byte(len(data))}, data...)
	case modbus.ReadHoldRegister, modbus.ReadInputRegister:
		quantity := binutil.ParseUint16(pdu[4:])
		data := make([]byte, quantity*2)
		for i := uint16(0); i < quantity; i++ {
			binutil.WriteUint16(data[i*2:], d.registers[address+i])
		}
		return append([]byte{station, fc, byte(len(data))}, data...)
	case modbus.WriteSingleCoil:
		d.coils[address] = pdu[4] == 0xFF
		return binutil.Dup(pdu[:6])
	case modbus.WriteSingleRegister:
		d.registers[address] = binutil.ParseUint16(pdu[4:])
		return binutil.Dup(pdu[:6])
	case modbus.WriteMultiRegister:
		quantity := binutil.ParseUint16(pdu[4:])
		for i := uint16(0); i < quantity; i++ {
			d.registers[address+i] = binutil.ParseUint16(pdu[7+i*2:])
		}
		return binutil.Dup(pdu[:6])
	}
	return []byte{station, fc | modbus.ExceptionFlag, 0x01}
}

// setUint32 stores v at address in network order.
func (d *fakeDevice) setUint32(address uint16, v uint32) {
	d.registers[address] = uint16(v >> 16)
	d.registers[address+1] = uint16(v)
}
