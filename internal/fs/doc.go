// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: Represents an open file with read/write/sync capabilities
//   - [FileSystem]: Abstracts filesystem operations (open, remove, rename, etc.)
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (simulate I/O errors)
//
// # Usage
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests can inject [FaultyFS] to simulate spill failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	fault := fs.NoFault()
//	fault.FailAfterBytes = 1024 // Fail after 1KB written
//	ffs.AddRule("bucket-", fault)
//
// Filesystem operations carry no context.Context. For remote storage use
// blobstore, which does.
package fs
