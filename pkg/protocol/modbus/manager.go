package modbus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"k8s.io/utils/keymutex"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/runtime/constant"
)

// DefaultConnectRetryInterval is how long a server that failed to connect is
// left alone before a new session is attempted.
const DefaultConnectRetryInterval = 30 * time.Second

// createLockSlots sizes the hashed creation lock. A slow connect only blocks
// creation for server URLs hashing to the same slot.
const createLockSlots = 4096

var ErrSessionNotFound = errors.New("modbus session not found")

// Manager owns one Session per server URL.
type Manager struct {
	// Clock and NewMessenger may be replaced before first use.
	Clock         clock.Clock
	NewMessenger  func(config *modbus.ConnectionConfig) modbus.Messenger
	RetryInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	failed   map[string]time.Time
	// pending holds the subscriptions of sessions torn down by Reconfigure
	// until a replacement session connects.
	pending map[string][]*modbus.Address
	keyLock keymutex.KeyMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager returns a manager whose sessions poll until ctx is done or
// Destroy is called.
func NewManager(ctx context.Context) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		Clock:         clock.RealClock{},
		RetryInterval: DefaultConnectRetryInterval,
		sessions:      make(map[string]*Session),
		failed:        make(map[string]time.Time),
		pending:       make(map[string][]*modbus.Address),
		keyLock:       keymutex.NewHashed(createLockSlots),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (m *Manager) Session(serverUrl string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[serverUrl]
	return s, ok
}

func (m *Manager) ServerUrls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	urls := make([]string, 0, len(m.sessions))
	for url := range m.sessions {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// CreateClientSession returns the session for config.ServerUrl, creating and
// connecting it on first use. Creation is serialized per server URL and a
// session is only registered once it has connected.
func (m *Manager) CreateClientSession(ctx context.Context, config *modbus.ConnectionConfig) (*Session, error) {
	key := config.ServerUrl
	if s, ok := m.Session(key); ok {
		return s, nil
	}

	m.keyLock.LockKey(key)
	defer func() {
		_ = m.keyLock.UnlockKey(key)
	}()
	if s, ok := m.Session(key); ok {
		return s, nil
	}
	if until, ok := m.backoff(key); ok {
		return nil, errors.Wrapf(constant.ErrConnectBackoff, "%s until %s", key, until.Format(time.RFC3339))
	}

	var messenger modbus.Messenger
	if m.NewMessenger != nil {
		messenger = m.NewMessenger(config)
	}
	s, err := NewSession(config, messenger)
	if err != nil {
		return nil, err
	}
	if r := s.Connect(ctx); !r.IsSucceed {
		m.mu.Lock()
		m.failed[key] = m.Clock.Now().Add(m.RetryInterval)
		m.mu.Unlock()
		klog.V(2).InfoS("Failed to create modbus session", "serverUrl", key, "error", r.Err)
		return nil, errors.Wrap(constant.ErrConnectDevice, r.Err)
	}

	m.mu.Lock()
	m.sessions[key] = s
	delete(m.failed, key)
	inputs := m.pending[key]
	delete(m.pending, key)
	m.mu.Unlock()
	if len(inputs) > 0 {
		restored := resubscribe(s, inputs)
		klog.V(2).InfoS("Restored subscriptions", "session", s.ID, "serverUrl", key, "points", len(restored))
	}
	s.Start(m.ctx)
	klog.V(1).InfoS("Created modbus session", "session", s.ID, "serverUrl", key, "modbusType", config.ModbusType)
	return s, nil
}

func (m *Manager) backoff(key string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.failed[key]
	if !ok || !m.Clock.Now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// Reconfigure applies config to the session of its server URL. Polling and
// batch settings are updated in place; any transport change replaces the
// session.
func (m *Manager) Reconfigure(ctx context.Context, config *modbus.ConnectionConfig) (*Session, error) {
	s, ok := m.Session(config.ServerUrl)
	if ok {
		current := s.Config()
		if current.SameTransport(config) {
			s.ResetPollingInterval(config.PollingInterval())
			s.SetBatchOptions(config.BatchSize, config.RetryCount)
			return s, nil
		}
		inputs := s.AddressInputs()
		err := m.Remove(ctx, config.ServerUrl)
		m.mu.Lock()
		m.pending[config.ServerUrl] = inputs
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		// on failure the subscriptions stay pending for the next successful create
		return m.CreateClientSession(ctx, config)
	}
	return m.CreateClientSession(ctx, config)
}

// resubscribe parses inputs again with the registry of s and subscribes them.
func resubscribe(s *Session, inputs []*modbus.Address) []*modbus.Address {
	nodes := make([]*modbus.Address, 0, len(inputs))
	for _, a := range inputs {
		if parsed, ok := s.Registry.Parse(a.StationNumber, a.NodeStr); ok {
			nodes = append(nodes, parsed)
		}
	}
	return s.AddAddressInputs(nodes)
}

func (m *Manager) GetClientSessionStatus(serverUrl string) (SessionStatus, error) {
	s, ok := m.Session(serverUrl)
	if !ok {
		return SessionStatus{ServerUrl: serverUrl}, errors.Wrap(ErrSessionNotFound, serverUrl)
	}
	return s.Status(), nil
}

// GetModbusInputList parses point descriptors with the session's registry.
func (m *Manager) GetModbusInputList(serverUrl string, station uint8, nodeStrs []string) ([]*modbus.Address, error) {
	s, ok := m.Session(serverUrl)
	if !ok {
		return nil, errors.Wrap(ErrSessionNotFound, serverUrl)
	}
	return s.Registry.ParseList(station, nodeStrs), nil
}

// AddSubscription parses and subscribes points for polling. Descriptors that
// do not parse or name a write only function code are skipped.
func (m *Manager) AddSubscription(serverUrl string, station uint8, nodeStrs []string) ([]*modbus.Address, error) {
	addresses, err := m.GetModbusInputList(serverUrl, station, nodeStrs)
	if err != nil {
		return nil, err
	}
	s, _ := m.Session(serverUrl)
	return s.AddAddressInputs(addresses), nil
}

func (m *Manager) GetCurrentValues(serverUrl string, addresses []*modbus.Address) (map[string]interface{}, error) {
	s, ok := m.Session(serverUrl)
	if !ok {
		return nil, errors.Wrap(ErrSessionNotFound, serverUrl)
	}
	return s.GetCurrentValues(addresses), nil
}

type WriteItem struct {
	StationNumber uint8  `json:"stationNumber"`
	NodeStr       string `json:"nodeStr"`
	Value         string `json:"value"`
}

// ReadItem names a point read after the writes of a SetRequest.
type ReadItem struct {
	StationNumber uint8  `json:"stationNumber"`
	NodeStr       string `json:"nodeStr"`
}

type SetRequest struct {
	Items []*WriteItem `json:"items"`
	// ReadBack reads every written point again after all writes finished.
	ReadBack bool `json:"readBack,omitempty"`
	// Reads are read in order once all writes and read backs are done.
	Reads []*ReadItem `json:"reads,omitempty"`
}

type WriteItemResult struct {
	NodeStr string         `json:"nodeStr"`
	Result  *modbus.Result `json:"result"`
	Value   interface{}    `json:"value,omitempty"`
}

type SetResponse struct {
	IsSucceed bool               `json:"isSucceed"`
	Message   string             `json:"message,omitempty"`
	Results   []*WriteItemResult `json:"results"`
	Reads     []*WriteItemResult `json:"reads,omitempty"`
}

// WriteValue writes every item of request in order, then reads the points
// listed in Reads. A failed item does not stop the others.
func (m *Manager) WriteValue(ctx context.Context, serverUrl string, request *SetRequest) *SetResponse {
	response := &SetResponse{IsSucceed: true, Results: make([]*WriteItemResult, 0, len(request.Items))}
	s, ok := m.Session(serverUrl)
	if !ok {
		response.IsSucceed = false
		response.Message = errors.Wrap(ErrSessionNotFound, serverUrl).Error()
		return response
	}

	var errs []error
	written := make([]*modbus.Address, len(request.Items))
	for i, item := range request.Items {
		a, ok := s.Registry.Parse(item.StationNumber, item.NodeStr)
		if !ok {
			r := modbus.NewResult().Fail(errors.Errorf("invalid point %q", item.NodeStr)).EndTime()
			response.Results = append(response.Results, &WriteItemResult{NodeStr: item.NodeStr, Result: r})
			errs = append(errs, r.Exception)
			continue
		}
		r := s.WritePoint(ctx, a, item.Value)
		if !r.IsSucceed {
			errs = append(errs, errors.New(r.Err))
		} else {
			written[i] = a
		}
		response.Results = append(response.Results, &WriteItemResult{NodeStr: item.NodeStr, Result: r})
	}

	if request.ReadBack {
		for i, a := range written {
			if a == nil {
				continue
			}
			if r := s.ReadPoint(ctx, a); r.IsSucceed {
				response.Results[i].Value = r.Value
			}
		}
	}

	for _, item := range request.Reads {
		a, ok := s.Registry.Parse(item.StationNumber, item.NodeStr)
		if !ok {
			r := modbus.NewResult().Fail(errors.Errorf("invalid point %q", item.NodeStr)).EndTime()
			response.Reads = append(response.Reads, &WriteItemResult{NodeStr: item.NodeStr, Result: r})
			errs = append(errs, r.Exception)
			continue
		}
		r := s.ReadPoint(ctx, a)
		result := &WriteItemResult{NodeStr: item.NodeStr, Result: &r.Result}
		if r.IsSucceed {
			result.Value = r.Value
		} else {
			errs = append(errs, errors.New(r.Err))
		}
		response.Reads = append(response.Reads, result)
	}

	if agg := utilerrors.NewAggregate(errs); agg != nil {
		response.IsSucceed = false
		response.Message = agg.Error()
	}
	return response
}

// Remove closes and forgets the session of serverUrl.
func (m *Manager) Remove(ctx context.Context, serverUrl string) error {
	m.mu.Lock()
	s, ok := m.sessions[serverUrl]
	delete(m.sessions, serverUrl)
	delete(m.pending, serverUrl)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Destroy closes every session.
func (m *Manager) Destroy(ctx context.Context) error {
	m.cancel()
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.pending = make(map[string][]*modbus.Address)
	m.mu.Unlock()

	var errs []error
	for url, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, errors.Wrapf(err, "close %s", url))
		}
	}
	return utilerrors.NewAggregate(errs)
}
