// Package relay hands captured frames from the capture goroutine to the
// sender worker.
//
// The Relay is a fixed-capacity single-producer/single-consumer ring. The
// producer never blocks: when every slot is occupied the oldest unconsumed
// frame is evicted and counted as a drop. Frames move through the ring by
// pointer; once Push returns the producer must not touch the frame again.
//
//	r := relay.New(8, relay.WithRelease(pool.Put))
//
//	// capture goroutine
//	r.Push(frame)
//
//	// sender worker
//	for {
//		select {
//		case <-ctx.Done():
//			return
//		case <-r.Ready():
//		}
//		for f, ok := r.Pop(); ok; f, ok = r.Pop() {
//			handle(f)
//		}
//	}
package relay
