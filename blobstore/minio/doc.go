// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible systems such as Ceph,
// SeaweedFS and Garage, and needs no AWS SDK.
//
// # Basic Usage
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	}, "my-bucket", "indexes/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := store.Create(ctx, "documents.ivf")
//
// Writes stream through a pipe; the object becomes visible when Close
// returns. Abort fails the upload so no partial object is published.
package minio
