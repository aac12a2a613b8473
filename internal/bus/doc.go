// Package bus is the same-origin broadcast primitive the sharer runs on.
//
// Ownership boundary:
// - Opener/Channel contract: open a named topic, post payloads, receive
//   payloads posted by every other subscriber of the same name
// - MemoryHub: in-process implementation
// - UDPBus: IPv4 multicast implementation for separate processes
//
// A channel never receives its own posts. Delivery callbacks run on bus
// goroutines; callers hand them off to their own event loop.
package bus
