// Package layer binds one configured data source to its quadtree, fetch
// client, decoder and load dispatcher, and runs the control loop that drives
// every layer from eye updates. The Engine owns the consumer side: it refines
// the trees, drains the mailbox the workers post into, uploads ready payloads
// through the render strategy and collects stale nodes on a ticker.
package layer
