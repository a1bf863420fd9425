//go:build linux

package main

import (
	"fmt"
	"strconv"

	sysctl "github.com/lorenzosaino/go-sysctl"
)

// A full 30k-point sweep payload plus framing must fit in the kernel socket
// buffer while the host is busy decoding the previous chunk.
const minReceiveBuffer = 1 << 20

// checkReceiveBuffer warns when net.core.rmem_max is too small for deep
// sweeps over the TCP transport.
func checkReceiveBuffer() {
	val, err := sysctl.Get("net.core.rmem_max")
	if err != nil {
		return
	}
	rmem, err := strconv.Atoi(val)
	if err != nil || rmem >= minReceiveBuffer {
		return
	}
	fmt.Printf("Warning: net.core.rmem_max is %d bytes; deep sweeps may drop data.\n", rmem)
	fmt.Printf("Consider: sudo sysctl -w net.core.rmem_max=%d\n\n", minReceiveBuffer)
}
