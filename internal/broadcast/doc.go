// Package broadcast fans accepted state changes out to observers.
//
// Fanout implements device.ChangeSink, device.ConnectivitySink and
// command.Notifier. Each subscriber gets a bounded queue drained by its own
// goroutine, so a slow observer never blocks the state path. A subscriber
// whose queue overflows is dropped rather than skipped past, since skipping
// would break per-device seq order; it may subscribe again and receives a
// fresh snapshot.
//
// Subscribe delivers a snapshot of every device and switch before any live
// event. Live events raised while the snapshot is taken are held back and
// replayed after it, minus those the snapshot already covers.
package broadcast
