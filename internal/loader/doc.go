// Package loader moves node payloads from the network to the consumer.
//
// A Dispatcher owns an unbounded FIFO of nodes that need data and a fixed
// pool of workers. Workers fetch through a tile source, decode the cached
// file and perform the loading->ready transition on the tree; the consumer is
// then told through its Mailbox, which the control loop drains on its own
// goroutine. Progress callbacks from the fetch client travel the same way.
package loader
