package runtime

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"k8s.io/klog/v2"

	"gwmodbus/pkg/runtime/constant"
)

var _ Messenger = (*TcpClient)(nil)
var _ Messenger = (*SerialClient)(nil)

// Messenger is a byte transport to one Modbus server. It is not safe for
// concurrent use; callers serialize exchanges.
type Messenger interface {
	// Connect drops any existing handle and opens a new one.
	Connect(ctx context.Context) error
	Available() bool
	Write(request []byte) error
	// ReadFull fills response or fails once the configured timeout elapses.
	ReadFull(response []byte) error
	Close() error
}

type TcpClient struct {
	Address string
	Timeout time.Duration
	Tunnel  net.Conn
}

func NewTcpClient(address string, timeout time.Duration) *TcpClient {
	return &TcpClient{Address: address, Timeout: timeout}
}

func (tc *TcpClient) Connect(ctx context.Context) error {
	_ = tc.Close()
	dialer := &net.Dialer{Timeout: tc.Timeout}
	tunnel, err := dialer.DialContext(ctx, "tcp", tc.Address)
	if err != nil {
		klog.V(2).InfoS("Failed to connect modbus server", "address", tc.Address, "error", err)
		return errors.Wrapf(err, "connect %s", tc.Address)
	}
	tc.Tunnel = tunnel
	return nil
}

func (tc *TcpClient) Available() bool {
	return tc.Tunnel != nil
}

func (tc *TcpClient) Close() error {
	if tc.Tunnel == nil {
		return nil
	}
	err := tc.Tunnel.Close()
	tc.Tunnel = nil
	return err
}

func (tc *TcpClient) Write(request []byte) error {
	if tc.Tunnel == nil {
		return ErrModbusNotConnected
	}
	_ = tc.Tunnel.SetWriteDeadline(time.Now().Add(tc.Timeout))
	if _, err := tc.Tunnel.Write(request); err != nil {
		klog.V(2).InfoS("Failed to send message", "address", tc.Address, "error", err)
		return errors.Wrap(ErrModbusBadConn, err.Error())
	}
	return nil
}

func (tc *TcpClient) ReadFull(response []byte) error {
	if tc.Tunnel == nil {
		return ErrModbusNotConnected
	}
	// 设置读超时
	if err := tc.Tunnel.SetReadDeadline(time.Now().Add(tc.Timeout)); err != nil {
		klog.V(2).InfoS("Failed to set read deadline", "address", tc.Address, "error", err)
		return err
	}
	if _, err := io.ReadFull(tc.Tunnel, response); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return errors.Wrapf(ErrTimeout, "read from %s", tc.Address)
		}
		return errors.Wrap(ErrModbusBadConn, err.Error())
	}
	return nil
}

var ParityToParity = map[constant.Parity]serial.Parity{
	constant.NoParity:    serial.NoParity,
	constant.OddParity:   serial.OddParity,
	constant.EvenParity:  serial.EvenParity,
	constant.MarkParity:  serial.MarkParity,
	constant.SpaceParity: serial.SpaceParity,
}

var StopBitsToStopBits = map[constant.StopBits]serial.StopBits{
	constant.OneStopBit:           serial.OneStopBit,
	constant.OnePointFiveStopBits: serial.OnePointFiveStopBits,
	constant.TwoStopBits:          serial.TwoStopBits,
}

type SerialClient struct {
	Location string
	Mode     *serial.Mode
	Timeout  time.Duration
	Port     serial.Port
}

func NewSerialClient(config *ConnectionConfig) *SerialClient {
	return &SerialClient{
		Location: config.ServerUrl,
		Mode: &serial.Mode{
			BaudRate: config.BaudRate,
			DataBits: config.DataBits,
			Parity:   ParityToParity[config.Parity],
			StopBits: StopBitsToStopBits[config.StopBits],
		},
		Timeout: config.Timeout(),
	}
}

func (sc *SerialClient) Connect(ctx context.Context) error {
	_ = sc.Close()
	if err := ctx.Err(); err != nil {
		return err
	}
	port, err := serial.Open(sc.Location, sc.Mode)
	if err != nil {
		klog.V(2).InfoS("Failed to open serial port", "location", sc.Location, "error", err)
		return errors.Wrapf(err, "open serial port %s", sc.Location)
	}
	if err := port.SetReadTimeout(sc.Timeout); err != nil {
		_ = port.Close()
		return errors.Wrapf(err, "set read timeout on %s", sc.Location)
	}
	sc.Port = port
	return nil
}

func (sc *SerialClient) Available() bool {
	return sc.Port != nil
}

func (sc *SerialClient) Close() error {
	if sc.Port == nil {
		return nil
	}
	err := sc.Port.Close()
	sc.Port = nil
	return err
}

func (sc *SerialClient) Write(request []byte) error {
	if sc.Port == nil {
		return ErrModbusNotConnected
	}
	// 丢弃上次交换残留的字节
	_ = sc.Port.ResetInputBuffer()
	n, err := sc.Port.Write(request)
	if err != nil {
		klog.V(2).InfoS("Failed to write byte to series port", "location", sc.Location, "error", err)
		return errors.Wrap(ErrModbusBadConn, err.Error())
	}
	klog.V(5).InfoS("Succeed to write byte to series port", "bytes", request, "length", n)
	return nil
}

func (sc *SerialClient) ReadFull(response []byte) error {
	if sc.Port == nil {
		return ErrModbusNotConnected
	}
	for read := 0; read < len(response); {
		n, err := sc.Port.Read(response[read:])
		if err != nil {
			klog.V(2).InfoS("Failed to read byte from series port", "location", sc.Location, "error", err)
			return errors.Wrap(ErrModbusBadConn, err.Error())
		}
		if n == 0 {
			klog.V(2).InfoS("Serial port read timeout", "location", sc.Location, "read", read, "want", len(response))
			return errors.Wrapf(ErrTimeout, "read %d of %d bytes from %s", read, len(response), sc.Location)
		}
		read += n
	}
	return nil
}
