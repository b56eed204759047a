package wire

// Wire-format extension note: a single send/recv pair over a stream
// socket does not preserve message boundaries on real networks. A
// length-prefixed successor would write a 4-byte big-endian length
// ahead of each JSON payload and read exactly that many bytes back,
// remaining byte-compatible with this package's JSON payloads.
// Preserved here as-is for wire compatibility with the system this was
// ported from.
