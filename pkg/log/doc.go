// Package log wraps zerolog to provide structured logging for gridcore.
//
// Logger is a package-level logger configured by Init; WithComponent,
// WithNodeID, WithPartition and WithXid derive child loggers carrying the
// field callers most often want attached (which subsystem, which node,
// which partition, which transaction).
package log
