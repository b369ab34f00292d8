// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indexes/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	w, err := store.Create(ctx, "documents.ivf")
//
// # Features
//
//   - Range reads for partition scans
//   - Multipart streaming uploads with CRC32C checksums
//   - Automatic pagination for listing
//   - Conditional publish on S3 Express One Zone (ExpressStore.PutIfNotExists)
package s3
