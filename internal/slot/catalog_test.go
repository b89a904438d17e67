package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_ReturnsFourteenSlotsInOrder(t *testing.T) {
	all := All()
	require.Len(t, all, 14)
	assert.Equal(t, Slot("09:00 AM"), all[0])
	assert.Equal(t, Slot("05:30 PM"), all[13])

	for i := 1; i < len(all); i++ {
		assert.True(t, Less(all[i-1], all[i]), "%s should sort before %s", all[i-1], all[i])
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	all := All()
	all[0] = "tampered"
	assert.Equal(t, Slot("09:00 AM"), All()[0])
}

func TestLess_AfternoonAfterMorning(t *testing.T) {
	// lexical order would put "02:00 PM" first
	assert.True(t, Less("11:30 AM", "02:00 PM"))
	assert.False(t, Less("02:00 PM", "09:00 AM"))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Slot
		wantErr bool
	}{
		{name: "member", in: "10:30 AM", want: "10:30 AM"},
		{name: "surrounding spaces", in: "  03:00 PM ", want: "03:00 PM"},
		{name: "lunch gap", in: "12:30 PM", wantErr: true},
		{name: "24h format", in: "14:00", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownSlot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndex_NonMember(t *testing.T) {
	assert.Equal(t, -1, Index("01:00 PM"))
	assert.Equal(t, 0, Index("09:00 AM"))
	assert.Equal(t, Len()-1, Index("05:30 PM"))
}
