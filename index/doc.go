// Package index reads and writes IVF_PQ partition files.
//
// A partition file stores the rows of the partitioned stream (row id,
// partition id, PQ code) grouped by partition in ascending id order,
// followed by a footer with the centroids and the partition directory.
//
// File layout (little-endian):
//
//	[header: magic u32, version u16, reserved u16]
//	[block 0]...[block n-1]   framed row blocks, see internal/spill
//	[footer]                  geometry, schema, centroids, directory, block table
//	[trailer: footerOffset u64, footerLen u32, footerCRC u32, rows u64, magic u32]
//
// Blocks never span partitions when written through ivf.WriteIndexPartitions,
// so reading one partition touches only the blocks that hold it.
package index
