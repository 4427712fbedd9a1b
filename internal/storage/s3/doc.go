/*
Package s3 stores molecular assets as objects in an S3-compatible bucket.

A Backend plays two roles. As a durable tier it implements
types.TierBackend: missing objects are misses, and entry lifetimes are
kept in the "expires-at" object metadata because S3 has no per-object
TTL. As an origin it implements types.OriginFetcher over a bucket that is
the source of truth, reporting missing objects as NOT_FOUND.

Uploads at or above the multipart threshold go through the cargoship
transporter; smaller ones, and any upload the transporter fails, use a
plain PutObject.

	cfg := s3.NewDefaultConfig()
	cfg.Bucket = "structures"
	cfg.Prefix = "molcache/"
	backend, err := s3.NewBackend(ctx, cfg, logger)

Endpoint and ForcePathStyle point the client at MinIO or another
S3-compatible store.
*/
package s3
