package singleinstance

import (
	"hash/fnv"
	"os"
	"strconv"
)

const (
	defaultPortStart = 49500
	defaultPortEnd   = 49550
)

// getPortRange returns the configured TCP port range. Environment variables:
// SINGLEINSTANCE_PORT_START and SINGLEINSTANCE_PORT_END (integers, inclusive).
// Falls back to defaults when unset/invalid, and clamps to [1024, 65535].
func getPortRange() (int, int) {
	start := defaultPortStart
	end := defaultPortEnd
	if v := os.Getenv("SINGLEINSTANCE_PORT_START"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			start = n
		}
	}
	if v := os.Getenv("SINGLEINSTANCE_PORT_END"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			end = n
		}
	}
	if end < start {
		start, end = end, start
	}
	start = clampPort(start)
	end = clampPort(end)
	return start, end
}

func clampPort(p int) int {
	if p < 1024 {
		return 1024
	}
	if p > 65535 {
		return 65535
	}
	return p
}

// portFor maps name onto the configured range. Equal names always share a port.
func portFor(name string) int {
	start, end := getPortRange()
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return start + int(h.Sum32()%uint32(end-start+1))
}

// probeOrder lists every port in the range, starting at the home port of name
// and wrapping around. Names that hash to the same port spill over to the next
// free one.
func probeOrder(name string) []int {
	start, end := getPortRange()
	home := portFor(name)
	order := make([]int, 0, end-start+1)
	for p := home; p <= end; p++ {
		order = append(order, p)
	}
	for p := start; p < home; p++ {
		order = append(order, p)
	}
	return order
}

// PortFor exposes the home port of a name, for logging.
func PortFor(name string) int { return portFor(name) }
