package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/relay-core/internal/device"
)

func TestResolver_ManualOverridePrecedence(t *testing.T) {
	h := newHarness(t, Options{})
	link := newFakeTransport()
	id := h.connect(t, macA, link)

	out, err := h.dispatcher.Toggle(h.ctx, id, "relay1", true, UserSource(""))
	require.NoError(t, err)

	h.clock.Advance(2 * time.Second)
	pin := 14
	rec, err := h.resolver.HandleManualReport(h.ctx, ManualReport{
		DeviceID:      id,
		GPIO:          4,
		Action:        "toggle",
		PreviousState: true,
		NewState:      false,
		DetectedBy:    "gpio_interrupt",
		PhysicalPin:   &pin,
		Timestamp:     h.clock.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, out.CommandID, rec.CommandID)
	assert.Equal(t, ConflictManualOverride, rec.Type)
	assert.True(t, rec.RemoteDesired)
	assert.False(t, rec.ManualActual)
	assert.Equal(t, ResolutionManualApplied, rec.Resolution)
	assert.Equal(t, 2*time.Second, rec.ResponseTime)

	assert.Equal(t, StatusSuperseded, h.command(t, out.CommandID).Status)
	sw := h.state(t, id, "relay1")
	assert.False(t, sw.State)
	assert.Equal(t, device.SourceManual, sw.LastSource)
	assert.Len(t, h.events.Conflicts(), 1)

	// The device's late ack for the overridden command is stale.
	applied, err := h.dispatcher.HandleAck(h.ctx, id, "relay1", out.Seq, true)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, h.state(t, id, "relay1").State)

	stored, err := h.resolver.Conflicts(h.ctx, ConflictFilter{DeviceID: id})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, rec.ID, stored[0].ID)
	assert.Equal(t, 2*time.Second, stored[0].ResponseTime)
	require.NotNil(t, stored[0].PhysicalPin)
	assert.Equal(t, 14, *stored[0].PhysicalPin)
}

func TestResolver_OutsideWindowIsPlainManualUpdate(t *testing.T) {
	h := newHarness(t, Options{AckTimeout: time.Minute})
	id := h.connect(t, macA, newFakeTransport())

	out, err := h.dispatcher.Toggle(h.ctx, id, "relay1", true, UserSource(""))
	require.NoError(t, err)
	_, err = h.dispatcher.HandleAck(h.ctx, id, "relay1", out.Seq, true)
	require.NoError(t, err)

	second, err := h.dispatcher.Toggle(h.ctx, id, "relay2", true, UserSource(""))
	require.NoError(t, err)
	h.clock.Advance(11 * time.Second)

	rec, err := h.resolver.HandleManualReport(h.ctx, ManualReport{DeviceID: id, SwitchID: "relay2", GPIO: -1, NewState: false})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, StatusSent, h.command(t, second.CommandID).Status)

	// Manual input pin resolves to its switch.
	rec, err = h.resolver.HandleManualReport(h.ctx, ManualReport{DeviceID: id, GPIO: 14, NewState: false})
	require.NoError(t, err)
	assert.Nil(t, rec)
	sw := h.state(t, id, "relay1")
	assert.False(t, sw.State)
	assert.Equal(t, device.SourceManual, sw.LastSource)
	assert.Empty(t, h.events.Conflicts())
}

func TestResolver_AgreeingReportIsNotAConflict(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.connect(t, macA, newFakeTransport())

	out, err := h.dispatcher.Toggle(h.ctx, id, "relay1", true, UserSource(""))
	require.NoError(t, err)

	rec, err := h.resolver.HandleManualReport(h.ctx, ManualReport{DeviceID: id, GPIO: 4, NewState: true})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, StatusSent, h.command(t, out.CommandID).Status)
	assert.True(t, h.state(t, id, "relay1").State)
}

func TestResolver_RepeatedReportOnlyHeartbeats(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.connect(t, macA, newFakeTransport())

	_, err := h.resolver.HandleManualReport(h.ctx, ManualReport{DeviceID: id, GPIO: 5, NewState: false})
	require.NoError(t, err)
	assert.Empty(t, h.events.Changes())
}

func TestResolver_UnknownTargets(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.connect(t, macA, newFakeTransport())

	_, err := h.resolver.HandleManualReport(h.ctx, ManualReport{DeviceID: id, GPIO: 99, NewState: true})
	assert.ErrorIs(t, err, ErrUnknownSwitch)

	_, err = h.resolver.HandleManualReport(h.ctx, ManualReport{DeviceID: "relay-000000000000", GPIO: 4, NewState: true})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	_, err = h.resolver.HandleManualReport(h.ctx, ManualReport{DeviceID: id, GPIO: -1})
	assert.ErrorIs(t, err, ErrInvalidReport)
}

func TestSQLiteRepository_ListConflictsFilters(t *testing.T) {
	h := newHarness(t, Options{})
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i, target := range []struct{ device, sw string }{
		{"dev1", "relay1"}, {"dev1", "relay2"}, {"dev2", "relay1"},
	} {
		require.NoError(t, h.repo.SaveConflict(h.ctx, ConflictRecord{
			ID:         string(rune('a' + i)),
			DeviceID:   target.device,
			SwitchID:   target.sw,
			CommandID:  "cmd",
			Type:       ConflictManualOverride,
			Resolution: ResolutionManualApplied,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := h.repo.ListConflicts(h.ctx, ConflictFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	dev1, err := h.repo.ListConflicts(h.ctx, ConflictFilter{DeviceID: "dev1", SwitchID: "relay2"})
	require.NoError(t, err)
	require.Len(t, dev1, 1)
	assert.Equal(t, "b", dev1[0].ID)

	recent, err := h.repo.ListConflicts(h.ctx, ConflictFilter{Since: base.Add(90 * time.Second), Limit: 5})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)
}
