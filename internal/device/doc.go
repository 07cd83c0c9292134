// Package device holds the registry of relay-controller boards and the
// synchronizer that owns switch state.
//
// A Device is created the first time a board identifies (trust on first
// use: the presented secret is hashed and required on every later
// handshake). It owns an ordered list of Switches. Each switch carries a
// per-switch sequence number; the Synchronizer accepts an update only when
// its seq is strictly greater than the stored one, so duplicate and
// reordered deliveries from either transport converge on the newest state.
//
// # Locking
//
// The Registry's map lock guards membership only. Every device has its own
// mutex covering its fields, switches, transport handle and seq allocator.
// Sinks (ChangeSink, ConnectivitySink) run with that mutex held and must not
// block. Online hooks run after it is released.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetConnectivitySink(fanout)
//	if err := registry.LoadAll(ctx); err != nil {
//	    return err
//	}
//	sync := device.NewSynchronizer(registry, repo, fanout)
//
//	dev, err := registry.Identify(ctx, device.Identification{
//	    MAC:    "a4:cf:12:0b:88:01",
//	    Secret: secret,
//	}, session)
//
//	applied, err := sync.Apply(ctx, device.Update{
//	    DeviceID: dev.ID, SwitchID: "relay1", State: true, Seq: 5, Source: device.SourceRemote,
//	})
package device
