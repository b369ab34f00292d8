// Package model defines the identity types shared by the partition build.
//
//   - RowID: stable source row identifier (uint64), carried through every stage
//   - PartitionID: IVF partition index (uint32)
//   - PartitionRange: half-open [Start, End) slice of partition ids a build covers
package model
