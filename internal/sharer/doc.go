// Package sharer lets instances of one application agree on a session id
// over a broadcast bus, without a server.
//
// Ownership boundary:
// - Transport: one bus subscription, codec, origin filter, swappable handler
// - Holder: answers every Query with the id it currently holds
// - Requester: broadcasts one Query and forwards the first answer or timeout
// - Source: settles a Requester's events into SessionID or GaveUp, once
//
// Every callback runs on the loop.Executor the component was built with.
// Types here are not safe for concurrent use from outside that executor
// unless a method says otherwise.
package sharer
