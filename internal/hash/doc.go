// Package hash provides the CRC32-Castagnoli (CRC32C) checksums used by spill
// frames, index file footers and object store uploads.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// To cover several buffers:
//
//	crc := hash.UpdateCRC32C(0, header)
//	crc = hash.UpdateCRC32C(crc, payload)
//
// Go's hash/crc32 uses SSE4.2 or the ARM CRC extension when available.
package hash
