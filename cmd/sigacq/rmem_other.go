//go:build !linux

package main

// checkReceiveBuffer is a no-op where sysctl is unavailable.
func checkReceiveBuffer() {}
