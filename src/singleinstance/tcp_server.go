package singleinstance

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	probeTimeout = 300 * time.Millisecond

	leaseHost   = "127.0.0.1"
	pingRequest = "PING\n"
	pongPrefix  = "PONG "
)

// tcpLease implements Lease over a loopback listener.
type tcpLease struct {
	name string
	lis  net.Listener
	port int
	once sync.Once
	err  error
}

func claimTCP(name string) (Lease, error) {
	order := probeOrder(name)
	if port, ok := locate(context.Background(), order, name, probeTimeout); ok {
		return nil, fmt.Errorf("%q held by another framesense process on port %d: %w", name, port, ErrOwned)
	}
	for _, port := range order {
		addr := net.JoinHostPort(leaseHost, strconv.Itoa(port))
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			// Lost a race for this port to a process claiming the same name.
			if holder, perr := ping(addr, probeTimeout); perr == nil && holder == name {
				return nil, fmt.Errorf("%q held by another framesense process on %s: %w", name, addr, ErrOwned)
			}
			continue
		}
		l := &tcpLease{name: name, lis: lis, port: port}
		log.Debug().Str("component", "singleinstance").Str("name", name).Str("addr", addr).Msg("lease acquired")
		go l.acceptLoop()
		return l, nil
	}
	start, end := getPortRange()
	return nil, fmt.Errorf("%q: no free port in %d-%d: %w", name, start, end, ErrNoPort)
}

func (l *tcpLease) Name() string { return l.name }

func (l *tcpLease) Port() int { return l.port }

func (l *tcpLease) Release() error {
	l.once.Do(func() {
		l.err = l.lis.Close()
		log.Debug().Str("component", "singleinstance").Str("name", l.name).Msg("lease released")
	})
	return l.err
}

// acceptLoop answers PING probes until the listener closes.
func (l *tcpLease) acceptLoop() {
	for {
		c, err := l.lis.Accept()
		if err != nil {
			return
		}
		go l.serve(c)
	}
}

func (l *tcpLease) serve(c net.Conn) {
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil || line != pingRequest {
		return
	}
	_, _ = c.Write([]byte(pongPrefix + l.name + "\n"))
}

func trimPong(resp string) (string, bool) {
	if !strings.HasPrefix(resp, pongPrefix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(resp, pongPrefix), "\n"), true
}
