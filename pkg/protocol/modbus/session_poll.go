package modbus

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
)

// AddAddressInputs subscribes points for polling and returns the ones taken.
// Points already subscribed under the same display key are kept once; points
// with a function code that cannot be read are skipped.
func (s *Session) AddAddressInputs(addresses []*modbus.Address) []*modbus.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := make([]*modbus.Address, 0, len(addresses))
	for _, a := range addresses {
		if !modbus.FunctionCode(a.FunctionCode).IsRead() {
			klog.V(2).InfoS("Skipping point that cannot be polled", "session", s.ID, "nodeStr", a.NodeStr, "functionCode", a.FunctionCode)
			continue
		}
		key := a.DisplayNameKey()
		if _, ok := s.inputs[key]; !ok {
			s.inputs[key] = a
			s.inputOrder = append(s.inputOrder, key)
		}
		added = append(added, a)
	}
	return added
}

func (s *Session) RemoveAddressInputs(addresses []*modbus.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range addresses {
		delete(s.inputs, a.DisplayNameKey())
		delete(s.values, a.DisplayNameKey())
	}
	order := s.inputOrder[:0]
	for _, key := range s.inputOrder {
		if _, ok := s.inputs[key]; ok {
			order = append(order, key)
		}
	}
	s.inputOrder = order
}

func (s *Session) AddressInputs() []*modbus.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addresses := make([]*modbus.Address, 0, len(s.inputOrder))
	for _, key := range s.inputOrder {
		addresses = append(addresses, s.inputs[key])
	}
	return addresses
}

// GetCurrentValues returns the last polled value per display key. With no
// addresses every known value is returned.
func (s *Session) GetCurrentValues(addresses []*modbus.Address) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make(map[string]interface{}, len(s.values))
	if len(addresses) == 0 {
		for k, v := range s.values {
			values[k] = v
		}
		return values
	}
	for _, a := range addresses {
		if v, ok := s.values[a.DisplayNameKey()]; ok {
			values[a.DisplayNameKey()] = v
		}
	}
	return values
}

func (s *Session) ResetPollingInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.interval.Store(interval)
}

func (s *Session) PollingInterval() time.Duration {
	return s.interval.Load()
}

func (s *Session) SetBatchOptions(batchSize, retryCount int) {
	s.batchSize.Store(int64(batchSize))
	s.retryCount.Store(int64(retryCount))
}

// Poll reads every subscribed point once. It returns false without reading
// when a previous poll is still running.
func (s *Session) Poll(ctx context.Context) bool {
	if !s.polling.CAS(false, true) {
		klog.V(4).InfoS("Previous poll still running, skipping", "session", s.ID)
		return false
	}
	defer s.polling.Store(false)
	s.readAllNodesValues(ctx)
	return true
}

func (s *Session) readAllNodesValues(ctx context.Context) {
	if r := s.EnsureConnected(ctx); !r.IsSucceed {
		klog.V(2).InfoS("Failed to connect modbus server", "session", s.ID, "serverUrl", s.config.ServerUrl,
			"failures", s.connectFailures.Load(), "error", r.Err)
		return
	}

	inputs := s.AddressInputs()
	if len(inputs) == 0 {
		return
	}
	pageSize := int(s.batchSize.Load())
	if pageSize <= 0 {
		pageSize = len(inputs)
	}
	retryCount := int(s.retryCount.Load())
	start := time.Now()
	for i := 0; i < len(inputs); i += pageSize {
		end := i + pageSize
		if end > len(inputs) {
			end = len(inputs)
		}
		result := s.BatchRead(ctx, inputs[i:end], retryCount)
		s.storeValues(result.Value)
		if !result.IsSucceed {
			klog.V(2).InfoS("Failed to read points", "session", s.ID, "points", end-i, "error", result.Err)
		}
	}
	klog.V(4).InfoS("Polled modbus points", "session", s.ID, "points", len(inputs), "elapsed", time.Since(start))
}

func (s *Session) storeValues(outputs []*modbus.ModbusOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range outputs {
		if _, ok := s.inputs[o.DisplayNameKey]; ok {
			s.values[o.DisplayNameKey] = o.Value
		}
	}
}

// Start runs the polling loop until Close or until ctx is done.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Run polls on every tick of the polling interval. A tick that arrives while
// a poll is still running is skipped.
func (s *Session) Run(ctx context.Context) {
	go s.Poll(ctx)
	timer := time.NewTimer(s.PollingInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			go s.Poll(ctx)
			timer.Reset(s.PollingInterval())
		}
	}
}
