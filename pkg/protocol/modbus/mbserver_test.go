package modbus

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
	"gwmodbus/pkg/runtime/constant"
)

func freeAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestSessionAgainstServer(t *testing.T) {
	serv := mbserver.NewServer()
	serv.HoldingRegisters[100] = 0x0102
	serv.HoldingRegisters[101] = 0x0304
	serv.HoldingRegisters[200] = 7
	serv.Coils[9] = 1
	addr := freeAddress(t)
	require.NoError(t, serv.ListenTCP(addr))
	defer serv.Close()

	config := modbus.DefaultConnectionConfig()
	config.ServerUrl = addr
	config.TimeOut = 1000
	config.EndianFormat = constant.CDAB
	s, err := NewSession(config, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())
	ctx := context.Background()

	require.True(t, s.Connect(ctx).IsSucceed)

	u32 := s.ReadUInt32(ctx, "0100", 1, 3)
	require.True(t, u32.IsSucceed, u32.Err)
	assert.Equal(t, uint32(0x03040102), u32.Value)

	coil := s.ReadCoil(ctx, "0009", 1)
	require.True(t, coil.IsSucceed, coil.Err)
	assert.True(t, coil.Value)

	w := s.WriteFloat(ctx, "0300", 3.75, 1, 16)
	require.True(t, w.IsSucceed, w.Err)
	f := s.ReadFloat(ctx, "0300", 1, 3)
	require.True(t, f.IsSucceed, f.Err)
	assert.Equal(t, float32(3.75), f.Value)

	w = s.WriteUInt16(ctx, "0301", 0x1234, 1, 6)
	require.True(t, w.IsSucceed, w.Err)

	w = s.WriteCoil(ctx, "0010", true, 1)
	require.True(t, w.IsSucceed, w.Err)

	batch := s.BatchRead(ctx, s.Registry.ParseList(1, []string{
		"3,0100,UInt32", "3,0200,Int16", "3,0301,UInt16", "1,0009,Bool", "1,0010,Bool",
	}), 0)
	require.True(t, batch.IsSucceed, batch.Err)
	values := map[string]interface{}{}
	for _, o := range batch.Value {
		values[o.DisplayNameKey] = o.Value
	}
	assert.Equal(t, map[string]interface{}{
		"1_3_0100": uint32(0x03040102),
		"1_3_0200": int16(7),
		"1_3_0301": uint16(0x1234),
		"1_1_0009": true,
		"1_1_0010": true,
	}, values)
}
