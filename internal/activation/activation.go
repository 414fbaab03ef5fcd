// Package activation obtains the trigger server's listening sockets, either
// handed over by systemd socket activation or bound directly.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// firstFD is where systemd starts passing sockets (after stdin/out/err).
const firstFD = 3

// Listen returns the systemd-activated listeners if this process was socket
// activated, otherwise a single TCP listener bound to addr. The boolean
// reports whether the listeners came from systemd.
func Listen(addr string) ([]net.Listener, bool, error) {
	activated, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(activated) > 0 {
		return activated, true, nil
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return []net.Listener{l}, false, nil
}

// Listeners returns the systemd-activated listeners, or nil when the
// process was not socket activated.
func Listeners() ([]net.Listener, error) {
	n, err := activatedFDs(os.Getenv, os.Getpid())
	if err != nil || n == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		// FileListener dups the descriptor.
		_ = file.Close()
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		listeners = append(listeners, listener)
	}

	// Keep child processes from inheriting the sockets.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// activatedFDs parses LISTEN_PID and LISTEN_FDS and returns how many
// sockets were passed to pid.
func activatedFDs(getenv func(string) string, pid int) (int, error) {
	pidStr := getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}

	listenPID, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if listenPID != pid {
		return 0, nil
	}

	fdsStr := getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if n < 1 {
		return 0, nil
	}
	return n, nil
}

func closeAll(listeners []net.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}
