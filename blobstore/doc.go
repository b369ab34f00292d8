// Package blobstore provides the storage abstraction for index files and
// ledger manifests.
//
// BlobStore reads and writes immutable blobs. A blob created with Create
// becomes visible only when its writer closes successfully; Abort discards it.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic rename on close, mmap reads
//   - MemoryStore: in-process, for tests
//   - CachingStore: block cache in front of any store
//   - s3.Store, s3.ExpressStore: Amazon S3 with streaming multipart uploads
//   - minio.Store: MinIO and other S3-compatible servers
//
// # Optional Interfaces
//
//	type Aborter interface {            // discard a partial write
//	    Abort(ctx) error
//	}
//	type ConditionalPutter interface {  // create-only publish
//	    PutIfNotExists(ctx, name, data) error
//	}
//	type Mappable interface {           // zero-copy reads
//	    Bytes() ([]byte, error)
//	}
package blobstore
