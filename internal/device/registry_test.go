package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *memRepo, *recordingSink, *fakeClock) {
	t.Helper()
	repo := newMemRepo()
	reg := NewRegistry(repo)
	clock := newFakeClock()
	reg.SetClock(clock.Now)
	sink := &recordingSink{}
	reg.SetConnectivitySink(sink)
	require.NoError(t, reg.LoadAll(context.Background()))
	return reg, repo, sink, clock
}

func identify(t *testing.T, reg *Registry, handle Transport) *Device {
	t.Helper()
	dev, err := reg.Identify(context.Background(), Identification{
		MAC:      testMAC,
		Secret:   "s3cret",
		Name:     "Kitchen board",
		Switches: twoSwitches(),
	}, handle)
	require.NoError(t, err)
	return dev
}

func TestRegistry_IdentifyRegistersOnFirstContact(t *testing.T) {
	reg, repo, sink, _ := newTestRegistry(t)

	var hooked []string
	reg.OnOnline(func(_ context.Context, id string) { hooked = append(hooked, id) })

	push := &fakeTransport{name: "push"}
	dev := identify(t, reg, push)

	assert.Equal(t, "relay-a4cf120b8801", dev.ID)
	assert.Equal(t, StatusOnline, dev.Status)
	assert.Equal(t, "push", dev.Transport)
	require.Len(t, dev.Switches, 2)
	assert.Equal(t, ManualModeMaintained, dev.Switches[1].ManualMode)
	assert.NotEmpty(t, dev.SecretHash)

	stored, err := repo.Get(context.Background(), dev.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", stored.SecretHash)

	assert.Equal(t, []string{dev.ID}, hooked)
	conn := sink.Connectivity()
	require.Len(t, conn, 1)
	assert.True(t, conn[0].Online)
	assert.Equal(t, "push", conn[0].Transport)

	info, err := reg.Lookup(dev.ID)
	require.NoError(t, err)
	assert.True(t, info.Online())
	assert.Same(t, push, info.Transport)
}

func TestRegistry_IdentifyRejectsWrongSecret(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	identify(t, reg, &fakeTransport{name: "push"})

	_, err := reg.Identify(context.Background(), Identification{MAC: testMAC, Secret: "guess"}, &fakeTransport{name: "push"})
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestRegistry_IdentifyRejectsBadInput(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	_, err := reg.Identify(context.Background(), Identification{MAC: "not-a-mac", Secret: "x"}, nil)
	assert.ErrorIs(t, err, ErrInvalidMAC)

	_, err = reg.Identify(context.Background(), Identification{
		MAC:    testMAC,
		Secret: "x",
		Switches: []SwitchDefinition{
			{ID: "relay1", OutputPin: 4},
			{ID: "relay2", OutputPin: 4},
		},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidSwitch)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_ReidentifyWhileOnlineSwapsHandle(t *testing.T) {
	reg, _, sink, _ := newTestRegistry(t)
	hooks := 0
	reg.OnOnline(func(context.Context, string) { hooks++ })

	first := &fakeTransport{name: "push"}
	dev := identify(t, reg, first)

	second := &fakeTransport{name: "bus"}
	_, err := reg.Identify(context.Background(), Identification{MAC: testMAC, Secret: "s3cret"}, second)
	require.NoError(t, err)

	info, err := reg.Lookup(dev.ID)
	require.NoError(t, err)
	assert.Same(t, second, info.Transport)
	assert.Equal(t, 1, hooks)
	assert.Len(t, sink.Connectivity(), 1)

	// The first session closing late must not knock the device offline.
	reg.Detach(context.Background(), dev.ID, first)
	info, err = reg.Lookup(dev.ID)
	require.NoError(t, err)
	assert.True(t, info.Online())

	reg.Detach(context.Background(), dev.ID, second)
	info, err = reg.Lookup(dev.ID)
	require.NoError(t, err)
	assert.False(t, info.Online())
	conn := sink.Connectivity()
	require.Len(t, conn, 2)
	assert.False(t, conn[1].Online)
}

func TestRegistry_RedefinitionPreservesState(t *testing.T) {
	reg, repo, _, _ := newTestRegistry(t)
	dev := identify(t, reg, &fakeTransport{name: "push"})

	syncer := NewSynchronizer(reg, repo, nil)
	_, err := syncer.Apply(context.Background(), Update{DeviceID: dev.ID, SwitchID: "relay1", State: true, Seq: 5, Source: SourceRemote})
	require.NoError(t, err)

	_, err = reg.Identify(context.Background(), Identification{
		MAC:    testMAC,
		Secret: "s3cret",
		Switches: []SwitchDefinition{
			{ID: "relay1", Name: "Lights", OutputPin: 6},
			{ID: "relay3", OutputPin: 7},
		},
	}, &fakeTransport{name: "push"})
	require.NoError(t, err)

	sw, err := reg.Switch(dev.ID, "relay1")
	require.NoError(t, err)
	assert.True(t, sw.State)
	assert.Equal(t, uint64(5), sw.LastUpdateSeq)
	assert.Equal(t, 6, sw.OutputPin)
	assert.Equal(t, "Lights", sw.Name)

	_, err = reg.Switch(dev.ID, "relay2")
	assert.ErrorIs(t, err, ErrSwitchNotFound)

	sw, err = reg.Switch(dev.ID, "relay3")
	require.NoError(t, err)
	assert.False(t, sw.State)
	assert.Zero(t, sw.LastUpdateSeq)
}

func TestRegistry_SweepMarksSilentDevicesOffline(t *testing.T) {
	reg, repo, sink, clock := newTestRegistry(t)
	reg.SetHeartbeatTimeout(30 * time.Second)
	dev := identify(t, reg, &fakeTransport{name: "push"})

	clock.Advance(20 * time.Second)
	require.NoError(t, reg.Heartbeat(context.Background(), dev.ID))
	clock.Advance(20 * time.Second)
	assert.Equal(t, 0, reg.Sweep(context.Background()))

	clock.Advance(15 * time.Second)
	assert.Equal(t, 1, reg.Sweep(context.Background()))
	assert.Equal(t, 0, reg.Sweep(context.Background()))

	info, err := reg.Lookup(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, info.Status)
	assert.Nil(t, info.Transport)
	assert.Len(t, sink.Connectivity(), 2)

	stored, err := repo.Get(context.Background(), dev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, stored.Status)
}

func TestRegistry_LoadAllStartsOffline(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Save(context.Background(), &Device{
		ID: "relay-a4cf120b8801", MAC: testMAC, Name: "Board", Status: StatusOnline,
		Switches: []Switch{{ID: "relay1", OutputPin: 4, State: true, LastUpdateSeq: 9}},
	}))

	reg := NewRegistry(repo)
	require.NoError(t, reg.LoadAll(context.Background()))

	info, err := reg.Lookup("relay-a4cf120b8801")
	require.NoError(t, err)
	assert.False(t, info.Online())

	id, err := reg.ResolveMAC("A4-CF-12-0B-88-01")
	require.NoError(t, err)
	assert.Equal(t, "relay-a4cf120b8801", id)

	seq, err := reg.NextSeq(id, "relay1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), seq)
	seq, err = reg.NextSeq(id, "relay1")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), seq)
}

func TestRegistry_SwitchByPin(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	dev := identify(t, reg, &fakeTransport{name: "push"})

	sw, err := reg.SwitchByPin(dev.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, "relay2", sw.ID)

	sw, err = reg.SwitchByPin(dev.ID, 14)
	require.NoError(t, err)
	assert.Equal(t, "relay1", sw.ID)

	_, err = reg.SwitchByPin(dev.ID, 99)
	assert.ErrorIs(t, err, ErrSwitchNotFound)
}

func TestRegistry_Delete(t *testing.T) {
	reg, _, sink, _ := newTestRegistry(t)
	dev := identify(t, reg, &fakeTransport{name: "push"})

	require.NoError(t, reg.Delete(context.Background(), dev.ID))
	assert.Equal(t, 0, reg.Count())
	_, err := reg.Lookup(dev.ID)
	assert.True(t, errors.Is(err, ErrDeviceNotFound))
	_, err = reg.ResolveMAC(testMAC)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	conn := sink.Connectivity()
	require.Len(t, conn, 2)
	assert.False(t, conn[1].Online)
}

func TestRegistry_IdentifySaveFailure(t *testing.T) {
	reg, repo, _, _ := newTestRegistry(t)
	repo.failSave = true

	_, err := reg.Identify(context.Background(), Identification{MAC: testMAC, Secret: "x"}, &fakeTransport{name: "push"})
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 0, reg.Count())
}
