package runtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwmodbus/pkg/runtime/constant"
)

func TestParseAddress(t *testing.T) {
	r := NewAddressRegistry(0)

	a, ok := r.Parse(1, "3,40,Int32")
	require.True(t, ok)
	assert.Equal(t, uint8(1), a.StationNumber)
	assert.Equal(t, uint8(3), a.FunctionCode)
	assert.Equal(t, uint16(40), a.Register)
	assert.Equal(t, "0040", a.Address)
	assert.Equal(t, constant.Int32, a.DataType)
	assert.Nil(t, a.BitRange)
	assert.Equal(t, "1_3_0040", a.DisplayNameKey())
	assert.Equal(t, uint16(2), a.Width())
}

func TestParseBitRange(t *testing.T) {
	r := NewAddressRegistry(0)
	cases := []struct {
		nodeStr    string
		start, end uint8
	}{
		{"3,0001:00,Int16Bit", 0, 0},
		{"3,0001:03-07,UInt16Bit", 3, 7},
		{"3,1:00-1:12,Int16Bit", 0, 12},
		{"3,0001,Int16Bit", 0, 15},
	}
	for _, c := range cases {
		a, ok := r.Parse(1, c.nodeStr)
		require.True(t, ok, c.nodeStr)
		require.NotNil(t, a.BitRange, c.nodeStr)
		assert.Equal(t, uint16(1), a.Register, c.nodeStr)
		assert.Equal(t, c.start, a.BitRange.Start, c.nodeStr)
		assert.Equal(t, c.end, a.BitRange.End, c.nodeStr)
	}

	a, _ := r.Parse(1, "3,1:00-1:12,Int16Bit")
	assert.Equal(t, "0001:00-12", a.Location())
	assert.Equal(t, "1_3_0001:00-12", a.DisplayNameKey())
}

func TestParseMalformed(t *testing.T) {
	r := NewAddressRegistry(0)
	for _, nodeStr := range []string{
		"",
		"3,40",
		"3,40,Int32,extra",
		"x,40,Int32",
		"300,40,Int32",
		"9,40,Int32",
		"3,abc,Int32",
		"3,70000,Int32",
		"3,40,Decimal",
		"3,1:16,Int16Bit",
		"3,1:08-03,Int16Bit",
		"3,1:00-2:03,Int16Bit",
		"3,1:a,Int16Bit",
		"3,1:1:1:1:1,Int16Bit",
	} {
		a, ok := r.Parse(1, nodeStr)
		assert.False(t, ok, nodeStr)
		assert.Nil(t, a, nodeStr)
	}
	assert.Equal(t, 0, r.Len())
}

func TestParseCacheIdentity(t *testing.T) {
	r := NewAddressRegistry(0)
	a1, ok := r.Parse(1, "3,0100,Float")
	require.True(t, ok)
	a2, ok := r.Parse(1, "3,0100,Float")
	require.True(t, ok)
	assert.Same(t, a1, a2)

	other, ok := r.Parse(2, "3,0100,Float")
	require.True(t, ok)
	assert.NotSame(t, a1, other)
	assert.Equal(t, uint8(2), other.StationNumber)

	r.ClearCache()
	assert.Equal(t, 0, r.Len())
	a3, ok := r.Parse(1, "3,0100,Float")
	require.True(t, ok)
	assert.NotSame(t, a1, a3)
	assert.Equal(t, *a1, *a3)
}

func TestParseList(t *testing.T) {
	r := NewAddressRegistry(0)
	addresses := r.ParseList(1, []string{"3,0040,Int16", "bad", "1,0002,Bool", "3,0041,Nope", "4,0007,Double"})
	require.Len(t, addresses, 3)
	assert.Equal(t, "3,0040,Int16", addresses[0].NodeStr)
	assert.Equal(t, "1,0002,Bool", addresses[1].NodeStr)
	assert.Equal(t, "4,0007,Double", addresses[2].NodeStr)

	assert.Empty(t, r.ParseList(1, nil))
}

func TestRegistryBound(t *testing.T) {
	r := NewAddressRegistry(4)
	for i := 0; i < 4; i++ {
		_, ok := r.Parse(1, fmt.Sprintf("3,%d,Int16", i))
		require.True(t, ok)
	}
	assert.Equal(t, 4, r.Len())
	_, ok := r.Parse(1, "3,99,Int16")
	require.True(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewAddressRegistry(0)
	var wg sync.WaitGroup
	results := make([]*Address, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Parse(1, "3,0010,UInt32")
		}(i)
	}
	wg.Wait()
	for _, a := range results {
		assert.Same(t, results[0], a)
	}
}
