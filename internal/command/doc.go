// Package command turns toggle requests into device commands.
//
// The Dispatcher pushes a command to an online device and tracks it until
// the device acknowledges, the ack timer fires, or a newer command for the
// same switch supersedes it. Requests for an offline device go to the
// Queue, which keeps only the latest request per switch and drops entries
// after a TTL. Queued entries are flushed with fresh sequence numbers when
// the device comes back online, before any new request for that device is
// handled.
//
// The Resolver handles physical toggles reported by a device. A manual
// report that contradicts a recently sent command wins: the command is
// superseded and a ConflictRecord is kept for audit.
//
// Lock order is dispatcher device lock, then registry device lock. Neither
// is held across devices.
package command
