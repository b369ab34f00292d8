// Package cache provides an LRU cache for immutable blob blocks.
//
// The cache is charged against a resource.Controller, so cached index blocks
// and build working memory share one budget. A block that does not fit the
// budget is simply not cached.
package cache
