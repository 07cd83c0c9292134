package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, *Registry, *memRepo, *recordingSink, string) {
	t.Helper()
	reg, repo, _, _ := newTestRegistry(t)
	dev := identify(t, reg, &fakeTransport{name: "push"})
	sink := &recordingSink{}
	return NewSynchronizer(reg, repo, sink), reg, repo, sink, dev.ID
}

func TestSynchronizer_AppliesNewerSeqOnly(t *testing.T) {
	syncer, reg, _, sink, id := newTestSynchronizer(t)
	ctx := context.Background()

	applied, err := syncer.Apply(ctx, Update{DeviceID: id, SwitchID: "relay1", State: true, Seq: 3, Source: SourceRemote})
	require.NoError(t, err)
	assert.True(t, applied)

	// Redelivery of the same update is a no-op.
	applied, err = syncer.Apply(ctx, Update{DeviceID: id, SwitchID: "relay1", State: true, Seq: 3, Source: SourceRemote})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = syncer.Apply(ctx, Update{DeviceID: id, SwitchID: "relay1", State: false, Seq: 2, Source: SourceManual})
	require.NoError(t, err)
	assert.False(t, applied)

	sw, err := reg.Switch(id, "relay1")
	require.NoError(t, err)
	assert.True(t, sw.State)
	assert.Equal(t, uint64(3), sw.LastUpdateSeq)
	assert.Equal(t, SourceRemote, sw.LastSource)

	changes := sink.Changes()
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Previous)
	assert.True(t, changes[0].State)
}

func TestSynchronizer_ReorderedDeliveryConverges(t *testing.T) {
	syncer, reg, _, sink, id := newTestSynchronizer(t)
	ctx := context.Background()

	updates := []Update{
		{DeviceID: id, SwitchID: "relay2", State: true, Seq: 7, Source: SourceRemote},
		{DeviceID: id, SwitchID: "relay2", State: false, Seq: 6, Source: SourceRemote},
		{DeviceID: id, SwitchID: "relay2", State: true, Seq: 7, Source: SourceRemote},
		{DeviceID: id, SwitchID: "relay2", State: false, Seq: 5, Source: SourceRemote},
	}
	for _, u := range updates {
		_, err := syncer.Apply(ctx, u)
		require.NoError(t, err)
	}

	sw, err := reg.Switch(id, "relay2")
	require.NoError(t, err)
	assert.True(t, sw.State)
	assert.Equal(t, uint64(7), sw.LastUpdateSeq)
	assert.Len(t, sink.Changes(), 1)
}

func TestSynchronizer_PersistFailureLeavesMemory(t *testing.T) {
	syncer, reg, repo, sink, id := newTestSynchronizer(t)
	repo.failSwitchState = true

	applied, err := syncer.Apply(context.Background(), Update{DeviceID: id, SwitchID: "relay1", State: true, Seq: 1, Source: SourceRemote})
	assert.ErrorIs(t, err, errStoreDown)
	assert.False(t, applied)

	sw, err := reg.Switch(id, "relay1")
	require.NoError(t, err)
	assert.False(t, sw.State)
	assert.Zero(t, sw.LastUpdateSeq)
	assert.Empty(t, sink.Changes())
}

func TestSynchronizer_UnknownTargets(t *testing.T) {
	syncer, _, _, _, id := newTestSynchronizer(t)

	_, err := syncer.Apply(context.Background(), Update{DeviceID: "relay-000000000000", SwitchID: "relay1", Seq: 1})
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = syncer.Apply(context.Background(), Update{DeviceID: id, SwitchID: "nope", Seq: 1})
	assert.ErrorIs(t, err, ErrSwitchNotFound)
}

func TestSynchronizer_ApplyNextSkipsIssuedSeqs(t *testing.T) {
	syncer, reg, repo, _, id := newTestSynchronizer(t)
	ctx := context.Background()

	// Two commands in flight hold seqs 1 and 2.
	_, err := reg.NextSeq(id, "relay1")
	require.NoError(t, err)
	_, err = reg.NextSeq(id, "relay1")
	require.NoError(t, err)

	seq, err := syncer.ApplyNext(ctx, id, "relay1", true, SourceManual)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	// An ack for an older command is now stale.
	applied, err := syncer.Apply(ctx, Update{DeviceID: id, SwitchID: "relay1", State: false, Seq: 2, Source: SourceRemote})
	require.NoError(t, err)
	assert.False(t, applied)

	history, err := repo.History(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, SourceManual, history[0].Source)
	assert.Equal(t, uint64(3), history[0].Seq)
}
