package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "backoffice/pkg/domain-errors"
)

// Parsing runs on path parameters and token claims, so it must reject anything
// that is not a concrete UUID.
func TestParseAdminID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"empty string", "", true},
		{"nil UUID", uuid.Nil.String(), true},
		{"SQL injection attempt", "'; DROP TABLE admins;--", true},
		{"null byte", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"oversized input", strings.Repeat("a", 1000), true},
		{"uppercase", "550E8400-E29B-41D4-A716-446655440000", false},
		{"lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAdminID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAdminID_ScanValueRoundTrip(t *testing.T) {
	id := NewAdminID()

	v, err := id.Value()
	require.NoError(t, err)

	var scanned AdminID
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, id, scanned)
	assert.False(t, scanned.IsNil())
}

func TestAdminID_JSON(t *testing.T) {
	id := NewAdminID()
	raw, err := json.Marshal(map[string]AdminID{"id": id})
	require.NoError(t, err)
	assert.Contains(t, string(raw), id.String())

	var decoded map[string]AdminID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id, decoded["id"])
}

func TestParseSessionID(t *testing.T) {
	sid := NewSessionID()
	parsed, err := ParseSessionID(sid.String())
	require.NoError(t, err)
	assert.Equal(t, sid, parsed)

	_, err = ParseSessionID("nope")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
