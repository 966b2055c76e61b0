package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// Held reports whether a framesense process currently holds name.
func Held(ctx context.Context, name string) bool {
	timeout := probeTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < timeout {
			timeout = d
		}
	}
	_, ok := locate(ctx, probeOrder(name), name, timeout)
	return ok
}

// locate walks order and returns the port whose holder answers with name.
func locate(ctx context.Context, order []int, name string, timeout time.Duration) (int, bool) {
	for _, port := range order {
		if ctx.Err() != nil {
			return 0, false
		}
		holder, err := ping(net.JoinHostPort(leaseHost, strconv.Itoa(port)), timeout)
		if err == nil && holder == name {
			return port, true
		}
	}
	return 0, false
}

// ping sends PING to addr and returns the name the holder answers with.
func ping(addr string, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(pingRequest); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", err
	}
	holder, ok := trimPong(resp)
	if !ok {
		return "", errors.New("not a framesense lease")
	}
	return holder, nil
}
