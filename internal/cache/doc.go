// Package cache implements the fetch client that turns a remote URI into a
// file under StoragePath/<prefix>/<name>. Downloads land in <name>.part and
// resume with byte-range requests; the partial is renamed to its final name
// only once the transfer completes. A client can be aborted permanently,
// which cancels in-flight transfers and refuses every later fetch without
// touching the network. Tile sources and the load dispatcher depend on this
// package instead of talking to net/http directly.
package cache
