package runtime

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"gwmodbus/pkg/runtime/constant"
)

const DefaultMaxCachedAddresses = 4096

// AddressRegistry parses point descriptors of the form
//
//	<functionCode>,<address>[:<bitStart>[-<bitEnd>]],<dataType>
//
// and caches the result per station. "1:00-1:12" is accepted as a bit range too.
type AddressRegistry struct {
	mu    sync.RWMutex
	cache map[string]*Address
	// MaxEntries bounds the cache; inserting past it clears the cache first.
	// Zero disables the bound.
	MaxEntries int
}

func NewAddressRegistry(maxEntries int) *AddressRegistry {
	return &AddressRegistry{
		cache:      make(map[string]*Address),
		MaxEntries: maxEntries,
	}
}

func cacheKey(station uint8, nodeStr string) string {
	return fmt.Sprintf("%d_%s", station, nodeStr)
}

// Parse returns the cached address for the descriptor, parsing it on first use.
// Equal inputs return the same *Address.
func (r *AddressRegistry) Parse(station uint8, nodeStr string) (*Address, bool) {
	key := cacheKey(station, nodeStr)
	r.mu.RLock()
	a, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return a, true
	}

	parsed, ok := ParseAddress(station, nodeStr)
	if !ok {
		klog.V(4).InfoS("Failed to parse point descriptor", "station", station, "nodeStr", nodeStr)
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.cache[key]; ok {
		return a, true
	}
	if r.cache == nil {
		r.cache = make(map[string]*Address)
	}
	if r.MaxEntries > 0 && len(r.cache) >= r.MaxEntries {
		klog.V(3).InfoS("Address cache is full, clearing", "entries", len(r.cache))
		r.cache = make(map[string]*Address)
	}
	r.cache[key] = parsed
	return parsed, true
}

// ParseList keeps the input order and drops descriptors that do not parse.
func (r *AddressRegistry) ParseList(station uint8, nodeStrs []string) []*Address {
	addresses := make([]*Address, 0, len(nodeStrs))
	for _, nodeStr := range nodeStrs {
		if a, ok := r.Parse(station, nodeStr); ok {
			addresses = append(addresses, a)
		}
	}
	return addresses
}

func (r *AddressRegistry) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]*Address)
	r.mu.Unlock()
}

func (r *AddressRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// ParseAddress parses a descriptor without caching.
func ParseAddress(station uint8, nodeStr string) (*Address, bool) {
	parts := strings.Split(nodeStr, ",")
	if len(parts) != 3 {
		return nil, false
	}
	fc, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 8)
	if err != nil || !FunctionCode(fc).Valid() {
		return nil, false
	}
	dataType, ok := constant.ParseDataType(parts[2])
	if !ok {
		return nil, false
	}
	register, bits, ok := ParseLocation(strings.TrimSpace(parts[1]))
	if !ok {
		return nil, false
	}
	if bits == nil && dataType.IsBitSlice() {
		bits = &BitRange{Start: 0, End: 15}
	}
	return &Address{
		StationNumber: station,
		FunctionCode:  uint8(fc),
		Register:      register,
		Address:       fmt.Sprintf("%04d", register),
		DataType:      dataType,
		BitRange:      bits,
		NodeStr:       nodeStr,
	}, true
}

// ParseLocation splits "<reg>", "<reg>:<start>", "<reg>:<start>-<end>" or
// "<reg>:<start>-<reg>:<end>" into the register and bit range.
func ParseLocation(s string) (uint16, *BitRange, bool) {
	fields := strings.Split(strings.ReplaceAll(s, "-", ":"), ":")
	register, ok := parseUint16(fields[0])
	if !ok {
		return 0, nil, false
	}

	var start, end string
	switch len(fields) {
	case 1:
		return register, nil, true
	case 2:
		start, end = fields[1], fields[1]
	case 3:
		start, end = fields[1], fields[2]
	case 4:
		if other, ok := parseUint16(fields[2]); !ok || other != register {
			return 0, nil, false
		}
		start, end = fields[1], fields[3]
	default:
		return 0, nil, false
	}

	s0, err := strconv.ParseUint(strings.TrimSpace(start), 10, 8)
	if err != nil {
		return 0, nil, false
	}
	e0, err := strconv.ParseUint(strings.TrimSpace(end), 10, 8)
	if err != nil {
		return 0, nil, false
	}
	if s0 > 15 || e0 > 15 || s0 > e0 {
		return 0, nil, false
	}
	return register, &BitRange{Start: uint8(s0), End: uint8(e0)}, true
}

func parseUint16(s string) (uint16, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
