package runtime

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTcpClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte{buf[0], buf[1], 0xAA})
		time.Sleep(time.Second)
	}()

	c := NewTcpClient(ln.Addr().String(), 200*time.Millisecond)
	assert.False(t, c.Available())
	assert.ErrorIs(t, c.Write([]byte{1}), ErrModbusNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Available())
	require.NoError(t, c.Write([]byte{1, 2, 3, 4}))

	response := make([]byte, 3)
	require.NoError(t, c.ReadFull(response))
	assert.Equal(t, []byte{1, 2, 0xAA}, response)

	err = c.ReadFull(make([]byte, 1))
	assert.True(t, errors.Is(err, ErrTimeout), err)

	require.NoError(t, c.Close())
	assert.False(t, c.Available())
	assert.NoError(t, c.Close())
}

func TestTcpClientConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewTcpClient(address, 200*time.Millisecond)
	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.Available())
}
