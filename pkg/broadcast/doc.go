// Package broadcast fans typed messages out to in-process subscribers.
//
// The job engine uses it as the lifecycle event bus: the event pump
// broadcasts every queue.Event and the monitor subscribes.
//
//	bus := broadcast.NewMemoryBroadcaster[queue.Event](256)
//	sub := bus.Subscribe(ctx)
//	for msg := range sub.Receive(ctx) {
//		record(msg.Data)
//	}
//
// Broadcast never blocks. A subscriber whose buffer is full misses the
// message, which is counted in Dropped; WithSlowSubscriberPolicy(DropSubscriber)
// unsubscribes it instead. Cancelling the subscribe context or closing the
// broadcaster closes the subscriber.
package broadcast
