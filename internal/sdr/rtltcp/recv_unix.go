//go:build unix

package rtltcp

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// recv makes a single non-blocking read attempt on the socket. The runtime
// keeps the descriptor in non-blocking mode, so reading it directly returns
// EAGAIN instead of parking the caller until data arrives.
func (c *Client) recv(p []byte) (int, error) {
	sc, ok := c.conn.(syscall.Conn)
	if !ok {
		return pollRead(c.conn, p)
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("accessing socket: %w", err)
	}

	var (
		n     int
		opErr error
	)
	err = raw.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}

	switch {
	case errors.Is(opErr, unix.EAGAIN), errors.Is(opErr, unix.EINTR):
		return 0, errWouldBlock
	case opErr != nil:
		return 0, opErr
	}
	return max(n, 0), nil
}
