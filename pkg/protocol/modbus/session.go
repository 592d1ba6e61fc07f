package modbus

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"gwmodbus/pkg/protocol/modbus/model"
	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/utils/uuidutil"
)

// MaxConnectFailures is how many consecutive connect failures a session
// tolerates before it reports itself offline.
const MaxConnectFailures = 5

type SessionStatus struct {
	ID              string `json:"id"`
	ServerUrl       string `json:"serverUrl"`
	Online          bool   `json:"online"`
	Connected       bool   `json:"connected"`
	Polling         bool   `json:"polling"`
	ConnectFailures int32  `json:"connectFailures"`
	Inputs          int    `json:"inputs"`
}

// Session is the client for one Modbus server. Reads and writes are safe for
// concurrent use; exchanges on the wire are serialized.
type Session struct {
	ID       string
	Registry *modbus.AddressRegistry
	// WarningLog receives reconnect and retry notices. Defaults to klog.
	WarningLog WarningLog

	config   *modbus.ConnectionConfig
	modeler  model.ModbusModeler
	pipeline *Pipeline
	planner  *Planner

	interval        *atomic.Duration
	batchSize       *atomic.Int64
	retryCount      *atomic.Int64
	polling         *atomic.Bool
	online          *atomic.Bool
	connectFailures *atomic.Int32

	mu         sync.RWMutex
	inputs     map[string]*modbus.Address
	inputOrder []string
	values     map[string]interface{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession builds a session for config. A nil messenger selects the
// transport's default socket or serial port.
func NewSession(config *modbus.ConnectionConfig, messenger modbus.Messenger) (*Session, error) {
	modeler, err := model.NewModeler(config.ModbusType)
	if err != nil {
		return nil, errors.Wrapf(err, "modbus type %s", config.ModbusType)
	}
	if messenger == nil {
		messenger = modeler.NewMessenger(config)
	}
	c := *config
	s := &Session{
		ID:              uuidutil.SessionID(c.ModbusType.String()),
		Registry:        modbus.NewAddressRegistry(modbus.DefaultMaxCachedAddresses),
		config:          &c,
		modeler:         modeler,
		interval:        atomic.NewDuration(c.PollingInterval()),
		batchSize:       atomic.NewInt64(int64(c.BatchSize)),
		retryCount:      atomic.NewInt64(int64(c.RetryCount)),
		polling:         atomic.NewBool(false),
		online:          atomic.NewBool(true),
		connectFailures: atomic.NewInt32(0),
		inputs:          make(map[string]*modbus.Address),
		values:          make(map[string]interface{}),
	}
	s.pipeline = NewPipeline(messenger, modeler, s.warn)
	s.planner = &Planner{Reader: s, MemoryLayout: c.EndianFormat, WarningLog: s.warn}
	return s, nil
}

// Config returns a copy of the configuration the session was built with.
func (s *Session) Config() modbus.ConnectionConfig {
	c := *s.config
	c.SleepInterval = int(s.interval.Load() / time.Millisecond)
	c.BatchSize = int(s.batchSize.Load())
	c.RetryCount = int(s.retryCount.Load())
	return c
}

func (s *Session) Connected() bool {
	return s.pipeline.Connected()
}

func (s *Session) Connect(ctx context.Context) *modbus.Result {
	result := modbus.NewResult()
	if err := s.pipeline.Connect(ctx); err != nil {
		s.connectFailed()
		result.Fail(errors.Wrapf(err, "connect %s", s.config.ServerUrl))
		result.ErrCode = modbus.ErrCodeTimeout
		return result.EndTime()
	}
	s.connectFailures.Store(0)
	s.online.Store(true)
	klog.V(3).InfoS("Connected to modbus server", "session", s.ID, "serverUrl", s.config.ServerUrl)
	return result.EndTime()
}

// EnsureConnected connects only when no handle is open.
func (s *Session) EnsureConnected(ctx context.Context) *modbus.Result {
	if s.pipeline.Connected() {
		return modbus.NewResult().EndTime()
	}
	return s.Connect(ctx)
}

func (s *Session) connectFailed() {
	if failures := s.connectFailures.Inc(); failures > MaxConnectFailures && s.online.CAS(true, false) {
		klog.V(1).InfoS("Modbus server offline", "session", s.ID, "serverUrl", s.config.ServerUrl, "failures", failures)
	}
}

// Close stops polling and releases the handle once the exchange in flight,
// if any, has completed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return s.pipeline.Close(ctx)
}

func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	inputs := len(s.inputs)
	s.mu.RUnlock()
	return SessionStatus{
		ID:              s.ID,
		ServerUrl:       s.config.ServerUrl,
		Online:          s.online.Load(),
		Connected:       s.pipeline.Connected(),
		Polling:         s.polling.Load(),
		ConnectFailures: s.connectFailures.Load(),
		Inputs:          inputs,
	}
}

// exchange sends command reliably and decodes the reply. A checksum mismatch
// fails the result but keeps the payload; a transaction mismatch closes the
// handle so the next exchange reconnects.
func (s *Session) exchange(ctx context.Context, command []byte) *modbus.ValueResult[[]byte] {
	sent := s.pipeline.SendPackageReliable(ctx, command)
	if !sent.IsSucceed {
		return sent
	}
	result := modbus.Carry[[]byte](sent)
	frame, err := s.modeler.Decode(command, sent.Value)
	if err != nil {
		if errors.Is(err, modbus.ErrMessageTransaction) {
			klog.V(2).InfoS("Transaction mismatch, closing connection", "session", s.ID, "request", sent.Request, "response", sent.Response)
			if cerr := s.pipeline.Disconnect(ctx); cerr != nil {
				klog.V(4).InfoS("Failed to close connection", "session", s.ID, "error", cerr)
			}
		}
		return result.Fail(err)
	}
	result.Value = frame.Payload
	if frame.IntegrityErr != nil {
		result.Fail(frame.IntegrityErr)
		result.IntegrityErr = frame.IntegrityErr
	}
	return result
}

func (s *Session) warn(msg string, err error) {
	if s.WarningLog != nil {
		s.WarningLog(msg, err)
		return
	}
	klog.InfoS(msg, "session", s.ID, "serverUrl", s.config.ServerUrl, "error", err)
}
