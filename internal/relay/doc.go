// Package relay provides the hand-off primitives between one producer goroutine and
// one consumer goroutine.
//
// Queue is the queued mode: a bounded FIFO where every item is delivered and the
// producer blocks while the queue is full. Latest is the latest-wins mode: a single
// cell the producer overwrites; the consumer sees only the newest value and may skip
// intermediate ones or observe the same value twice.
package relay
