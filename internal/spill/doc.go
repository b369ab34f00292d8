// Package spill implements the on-disk format for batches staged by the disk
// shuffle, plus the directories that own those files.
//
// A spill file is self-describing: its header records the schema and the
// compression, followed by framed blocks. Every block carries a CRC32C over
// its header and payload so torn or corrupted spills are detected on read.
// The same block framing is reused by the index file format.
package spill
