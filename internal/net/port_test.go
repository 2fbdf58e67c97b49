package net

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEphemeralAddr(t *testing.T) {
	addr, err := EphemeralAddr("127.0.0.1")
	require.NoError(t, err)

	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
