// Package assetpipeline implements the Master Manifest & Asset Pipeline:
// fetching and caching the master manifest, validating already-downloaded
// files against it, reconciling the local package cache against the
// server's relational asset index, synthesizing a download plan, and
// executing that plan against a minted set of signed URLs.
package assetpipeline
