package simdevice

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/stretchr/testify/require"
)

// servePipe serves d with variant on one end of a net.Pipe and returns the
// other end with a reader over it.
func servePipe(t *testing.T, d *Device, variant directnet.Variant) (net.Conn, *bufio.Reader) {
	t.Helper()

	master, slave := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, slave, variant) }()

	t.Cleanup(func() {
		cancel()
		_ = master.Close()
		require.NoError(t, <-done)
	})

	return master, bufio.NewReader(master)
}

func writeString(t *testing.T, conn net.Conn, s string) {
	t.Helper()

	_, err := conn.Write([]byte(s))
	require.NoError(t, err)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()

	line, err := r.ReadString('\n')
	require.NoError(t, err)

	return line
}
