package modbus

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
	"k8s.io/klog/v2"

	"gwmodbus/pkg/protocol/modbus/model"
	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/runtime/constant"
	"gwmodbus/pkg/utils/binutil"
)

/**
modbus 协议 ADU = 地址(1) + pdu(253) + 16位校验(2) = 256
modbus tcp报文
tcp报文头(6)  +  地址(1)   +   pdu(253) = 260
modbus rtu报文
地址(1) + pdu(253) + 16位校验(2) = 256
modbus rtu over tcp
地址(1)   +   pdu(253)   +  16位校验(2)  = 256
modbus ascii报文
: + 十六进制(地址(1) + pdu(253) + LRC(1)) + CRLF = 513
*/

// WarningLog receives recoverable failures, e.g. before a reconnect.
type WarningLog func(msg string, err error)

// Pipeline runs request/response exchanges over one Messenger, one at a time.
type Pipeline struct {
	sem        *semaphore.Weighted
	messenger  modbus.Messenger
	modeler    model.ModbusModeler
	connected  *atomic.Bool
	closed     *atomic.Bool
	warningLog WarningLog
}

func NewPipeline(messenger modbus.Messenger, modeler model.ModbusModeler, warningLog WarningLog) *Pipeline {
	return &Pipeline{
		sem:        semaphore.NewWeighted(1),
		messenger:  messenger,
		modeler:    modeler,
		connected:  atomic.NewBool(false),
		closed:     atomic.NewBool(false),
		warningLog: warningLog,
	}
}

func (p *Pipeline) Connected() bool {
	return p.connected.Load()
}

// Connect drops the current handle, if any, and opens a new one.
func (p *Pipeline) Connect(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return p.connectLocked(ctx)
}

func (p *Pipeline) connectLocked(ctx context.Context) error {
	if p.closed.Load() {
		return constant.ErrDeviceServerClosed
	}
	err := p.messenger.Connect(ctx)
	p.connected.Store(err == nil && p.messenger.Available())
	return err
}

// Disconnect drops the handle; the next exchange opens a new one.
func (p *Pipeline) Disconnect(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	p.connected.Store(false)
	return p.messenger.Close()
}

// Close waits for the exchange in flight, then releases the handle for good.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closed.Store(true)
	return p.Disconnect(ctx)
}

// SendPackageReliable sends command and, if the exchange fails, reconnects
// once and retries once. The second outcome is returned as is.
func (p *Pipeline) SendPackageReliable(ctx context.Context, command []byte) *modbus.ValueResult[[]byte] {
	result := p.SendPackageSingle(ctx, command)
	if result.IsSucceed || p.closed.Load() || ctx.Err() != nil {
		return result
	}

	p.warn(fmt.Sprintf("Modbus exchange failed, reconnecting: %s", result.Err), result.Exception)
	if err := p.Connect(ctx); err != nil {
		reconnect := modbus.NewValueResult[[]byte]()
		reconnect.StartTime = result.StartTime
		reconnect.Request = result.Request
		reconnect.Fail(errors.Wrap(err, "reconnect"))
		reconnect.ErrCode = modbus.ErrCodeTimeout
		return reconnect.EndTime()
	}
	return p.SendPackageSingle(ctx, command)
}

// SendPackageSingle performs one exchange. The reply length is taken from the
// request, after reading just enough of the reply to spot an exception frame.
func (p *Pipeline) SendPackageSingle(ctx context.Context, command []byte) *modbus.ValueResult[[]byte] {
	result := modbus.NewValueResult[[]byte]()
	result.Request = binutil.HexString(command)

	if err := ctx.Err(); err != nil {
		return result.Fail(err).EndTime()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return result.Fail(err).EndTime()
	}
	defer p.sem.Release(1)

	if !p.messenger.Available() {
		if err := p.connectLocked(ctx); err != nil {
			return result.Fail(err).EndTime()
		}
	}

	response, err := p.exchange(command)
	result.Response = binutil.HexString(response)
	if err != nil {
		klog.V(2).InfoS("Failed to exchange modbus message", "request", result.Request, "response", result.Response, "error", err)
		return result.Fail(err).EndTime()
	}
	klog.V(5).InfoS("Succeed to exchange modbus message", "request", result.Request, "response", result.Response)
	result.Value = response
	return result.EndTime()
}

func (p *Pipeline) exchange(command []byte) ([]byte, error) {
	if err := p.messenger.Write(command); err != nil {
		return nil, err
	}
	prefix := make([]byte, p.modeler.PrefixLength())
	if err := p.messenger.ReadFull(prefix); err != nil {
		return nil, err
	}
	total := p.modeler.FrameLength(command, prefix)
	if total < len(prefix) {
		return prefix, modbus.ErrMessageDataLengthNotEnough
	}
	response := make([]byte, total)
	copy(response, prefix)
	if err := p.messenger.ReadFull(response[len(prefix):]); err != nil {
		return prefix, err
	}
	return response, nil
}

func (p *Pipeline) warn(msg string, err error) {
	if p.warningLog != nil {
		p.warningLog(msg, err)
		return
	}
	klog.InfoS(msg, "error", err)
}
