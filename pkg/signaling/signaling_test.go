package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomName_Symmetric(t *testing.T) {
	assert.Equal(t, RoomName("alice", "bob"), RoomName("bob", "alice"))
	assert.Equal(t, "call_5_alice_bob", RoomName("bob", "alice"))
}

func TestRoomName_UnderscoreIDsDoNotCollide(t *testing.T) {
	assert.NotEqual(t, RoomName("a_b", "c"), RoomName("a", "b_c"))
	assert.Equal(t, "call_3_a_b_c", RoomName("c", "a_b"))
	assert.Equal(t, "call_1_a_b_c", RoomName("b_c", "a"))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw     string
		want    Mode
		wantErr bool
	}{
		{"", ModeActive, false},
		{"active", ModeActive, false},
		{"PREVIEW", ModePreview, false},
		{"peek", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		assert.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestMode_MarksProcessed(t *testing.T) {
	for _, typ := range []Type{TypeIncomingCall, TypeOffer, TypeAnswer, TypeICECandidate, TypeCallEnded} {
		assert.True(t, ModeActive.MarksProcessed(typ), typ)
		assert.Equal(t, typ == TypeIncomingCall, ModePreview.MarksProcessed(typ), typ)
	}
}

func TestType_ValidAndDeduplicated(t *testing.T) {
	assert.True(t, TypeICECandidate.Valid())
	assert.False(t, Type("ring").Valid())
	assert.True(t, TypeOffer.Deduplicated())
	assert.True(t, TypeAnswer.Deduplicated())
	assert.False(t, TypeIncomingCall.Deduplicated())
	assert.False(t, TypeICECandidate.Deduplicated())
}
