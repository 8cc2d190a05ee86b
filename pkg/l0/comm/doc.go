// Package comm provides L0 link protocol support.
package comm

// L0 link protocol is communicated between L0 firmware and an L1 host
// over a byte stream without framing guarantees (USB CDC, UART, TCP).
//
// A frame on the wire:
//
//	STX(0xA5) LEN ADDR CMD PAYLOAD(0..253) CRC_LO CRC_HI
//
// LEN counts ADDR through the end of PAYLOAD, so it is never below 2.
// CRC is CRC-16/MODBUS over STX through the end of PAYLOAD, little-endian.
//
// The receiver resyncs by scanning for STX. A candidate that fails the
// length or CRC checks loses only its STX byte, so a later STX inside
// the discarded candidate is still found by the next scan.
//
// Replies use a status-first payload:
//
//	setters: [STATUS]
//	getters: [STATUS, BYTECOUNT, DATA...]
//
// Producer: L0 firmware (Dispatcher)
// Consumer: L1 host (Client)
