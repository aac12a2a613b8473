// Package protocol owns the session sharer wire contract.
//
// Ownership boundary:
// - Message tagged union (Query | Response)
// - codecs (JSON default, CBOR)
// - bus datagram framing (frame, tlv subpackages)
package protocol
