package live

import (
	"testing"

	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantKind Kind
		wantID   string
	}{
		{
			name:     "upserted",
			frame:    `{"event":"entity-upserted","data":{"id":"PKG1","status":"in_transit"}}`,
			wantKind: KindUpserted,
			wantID:   "PKG1",
		},
		{
			name:     "legacy update alias",
			frame:    `{"event":"package_update","data":{"id":"PKG2","status":"delivered"}}`,
			wantKind: KindUpserted,
			wantID:   "PKG2",
		},
		{
			name:     "removed object",
			frame:    `{"event":"entity-removed","data":{"id":"PKG3"}}`,
			wantKind: KindRemoved,
			wantID:   "PKG3",
		},
		{
			name:     "legacy delete with bare id",
			frame:    `{"event":"package_delete","data":"PKG4"}`,
			wantKind: KindRemoved,
			wantID:   "PKG4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode[types.Package]([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.wantID, ev.ID)
			assert.False(t, ev.At.IsZero())
		})
	}
}

func TestDecodeUpsertedKeepsRaw(t *testing.T) {
	ev, err := Decode[types.Package]([]byte(`{"event":"entity-upserted","data":{"id":"PKG1","status":"delivered"}}`))
	require.NoError(t, err)

	assert.Equal(t, types.StatusDelivered, ev.Record.Status)
	assert.JSONEq(t, `{"id":"PKG1","status":"delivered"}`, string(ev.Raw))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		wantReason string
	}{
		{name: "not json", frame: `{oops`, wantReason: "malformed"},
		{name: "unknown event", frame: `{"event":"courier_ping","data":{}}`, wantReason: "unknown_event"},
		{name: "upsert without id", frame: `{"event":"entity-upserted","data":{"status":"created"}}`, wantReason: "missing_id"},
		{name: "upsert with array", frame: `{"event":"entity-upserted","data":[1,2]}`, wantReason: "malformed"},
		{name: "remove without id", frame: `{"event":"entity-removed","data":{}}`, wantReason: "missing_id"},
		{name: "remove with blank id", frame: `{"event":"entity-removed","data":"  "}`, wantReason: "missing_id"},
		{name: "remove with number", frame: `{"event":"entity-removed","data":42}`, wantReason: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode[types.Package]([]byte(tt.frame))
			require.Error(t, err)
			assert.Equal(t, tt.wantReason, dropReason(err))
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	frame, err := EncodeFrame(EventStatusUpdate, types.StatusUpdate{
		PackageID: "PKG1",
		Status:    types.StatusOutForDelivery,
	})
	require.NoError(t, err)

	assert.Contains(t, string(frame), `"event":"status-update"`)
	assert.Contains(t, string(frame), `"packageId":"PKG1"`)
	assert.Contains(t, string(frame), `"status":"out_for_delivery"`)
}

func TestKindAndStateStrings(t *testing.T) {
	assert.Equal(t, "upserted", KindUpserted.String())
	assert.Equal(t, "degraded", KindDegraded.String())
	assert.Equal(t, "unknown", Kind(99).String())

	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, []string{"disconnected", "connecting", "connected"}, stateNames)
}
