/*
Package events provides the in-memory change feed for committed
document mutations.

The broker broadcasts every committed operation to all subscribers.
Publishing is non-blocking: events queue on a buffered channel and are
fanned out by a single distribution goroutine, so a slow or abandoned
subscriber can never stall a commit. Each subscriber has its own
buffer; when it fills, events for that subscriber are dropped rather
than queued without bound. The feed is therefore a notification
mechanism, not a replication log; consumers needing a complete record
should read the version history instead.

Events are published after the producing transaction is durable, so an
observer acting on an event will always see the committed state (or a
newer one) when it reads back.
*/
package events
