//go:build windows

package ipc

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// listen opens a named pipe at path (e.g. `\\.\pipe\screenlogd-status`),
// restricted to the owning user via the default security descriptor.
func listen(path string) (net.Listener, error) {
	l, err := winio.ListenPipe(path, nil)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen named pipe: %w", err)
	}
	return l, nil
}

func dial(path string) (net.Conn, error) {
	conn, err := winio.DialPipe(path, nil)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial named pipe: %w", err)
	}
	return conn, nil
}
