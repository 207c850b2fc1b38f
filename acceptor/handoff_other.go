//go:build !linux

package acceptor

// BSD-derived kernels detach the descriptor from the sender as part of the
// transfer; closing it here again would race the in-flight message. See
// handoff_linux.go for the other side of this platform split.
const closeAfterHandoff = false
