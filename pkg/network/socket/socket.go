package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"syscall"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

const udpBufferSize = 16 * 1024 * 1024

// SRT receiver latency
const srtLatency = 120 * time.Millisecond

type Kind string

const (
	UDP Kind = "udp"
	SRT Kind = "srt"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case UDP, SRT:
		return k, nil
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// Conn is a message oriented connection,
// every Write sends one packet and every Read returns one.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Dial opens the sending side of a transport to host:port.
func Dial(kind Kind, address string) (Conn, error) {
	switch kind {
	case UDP:
		addr, err := net.ResolveUDPAddr("udp", address)
		if err != nil {
			return nil, err
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			return nil, err
		}
		_ = conn.SetWriteBuffer(udpBufferSize)
		return conn, nil
	case SRT:
		cfg := srtgo.DefaultConfig()
		cfg.Latency = srtLatency
		conn, err := srtgo.Dial(address, cfg)
		if err != nil {
			return nil, fmt.Errorf("srt dial: %w", err)
		}
		return &srtConn{conn: conn}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}

// Listen opens the receiving side of a transport on host:port.
// For SRT it waits for the first caller.
func Listen(ctx context.Context, kind Kind, address string) (Conn, error) {
	switch kind {
	case UDP:
		addr, err := net.ResolveUDPAddr("udp", address)
		if err != nil {
			return nil, err
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return nil, err
		}
		_ = conn.SetReadBuffer(udpBufferSize)
		return conn, nil
	case SRT:
		cfg := srtgo.DefaultConfig()
		cfg.Latency = srtLatency
		l, err := srtgo.Listen(address, cfg)
		if err != nil {
			return nil, fmt.Errorf("srt listen on %s: %w", address, err)
		}
		stop := context.AfterFunc(ctx, func() { l.Close() })
		defer stop()
		conn, err := l.Accept()
		if err != nil {
			l.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("srt accept: %w", err)
		}
		return &srtConn{conn: conn, stop: func() { l.Close() }}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}

type srtConn struct {
	conn *srtgo.Conn
	// closes the listener of an accepted connection
	stop func()
}

func (c *srtConn) Read(b []byte) (int, error)  { return c.conn.Read(b) }
func (c *srtConn) Write(b []byte) (int, error) { return c.conn.Write(b) }

func (c *srtConn) Close() error {
	c.conn.Close()
	if c.stop != nil {
		c.stop()
	}
	return nil
}

// IsPortBusyError tests if the given error is one of
// the port busy errors.
func IsPortBusyError(err error) bool {
	if err == nil {
		return false
	}
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	if errErrno == syscall.EADDRINUSE {
		return true
	}
	const WSAEADDRINUSE = 10048
	if runtime.GOOS == "windows" && errErrno == WSAEADDRINUSE {
		return true
	}
	return false
}
