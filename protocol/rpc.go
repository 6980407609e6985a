package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"strconv"
	"time"
)

var ErrInvalidAddress = errors.New("invalid address")

// SplitAddress parses "host:port".
func SplitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w %q: %v", ErrInvalidAddress, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w %q: bad port", ErrInvalidAddress, addr)
	}
	return host, port, nil
}

func JoinAddress(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial opens an rpc client, bounded by ctx and timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*rpc.Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(conn), nil
}

// Call runs method and gives up when ctx ends. net/rpc has no cancellation,
// so an abandoned call keeps its slot until the connection closes.
func Call(ctx context.Context, client *rpc.Client, method string, args, reply any) error {
	call := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}

// IsRemoteError reports whether err was returned by the remote method
// itself rather than by the transport.
func IsRemoteError(err error) bool {
	var serverErr rpc.ServerError
	return errors.As(err, &serverErr)
}
