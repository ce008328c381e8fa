package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_MarshalBinary(t *testing.T) {
	h := Header{
		Version:       CurrentVersion,
		DataLength:    0x0102,
		Flags:         FlagAdd | FlagMoreComing,
		OpCode:        OpBrowseReply,
		SubordinateID: 0x0A0B,
		RegIndex:      7,
	}

	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, HeaderLength)

	want := []byte{
		0, 0, 0, 1,
		0, 0, 1, 2,
		0, 0, 0, 3,
		0, 0, 0, 66,
		0, 0, 0, 0, 0, 0, 0x0A, 0x0B,
		0, 0, 0, 7,
	}
	assert.Equal(t, want, b)
}

func TestDecodeHeader(t *testing.T) {
	h := Header{Version: CurrentVersion, DataLength: 9, OpCode: OpResolveReply, SubordinateID: 3}
	prefix := []byte{0xFF, 0xFF}
	buf := h.AppendBinary(prefix)

	got, next, err := DecodeHeader(buf, len(prefix))
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, len(prefix)+HeaderLength, next)
}

func TestDecodeHeader_Short(t *testing.T) {
	tests := []struct {
		name   string
		buf    []byte
		offset int
	}{
		{"empty", nil, 0},
		{"one short", make([]byte, HeaderLength-1), 0},
		{"offset past end", make([]byte, HeaderLength), 1},
		{"offset beyond buffer", make([]byte, 4), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeHeader(tt.buf, tt.offset)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFraming))

			var fe *FramingError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, HeaderLength, fe.Need)
		})
	}
}

func TestNewHeader(t *testing.T) {
	_, err := NewHeader(OpNone)
	assert.ErrorIs(t, err, ErrInvalidOpCode)

	h, err := NewHeader(OpBrowseRequest)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, h.Version)
	assert.Equal(t, OpBrowseRequest, h.OpCode)
	assert.False(t, h.IsSubordinate())
}

func TestOpCode_String(t *testing.T) {
	tests := []struct {
		op       OpCode
		expected string
	}{
		{OpConnectionRequest, "ConnectionRequest"},
		{OpConnectionDelegateRequest, "ConnectionDelegateRequest"},
		{OpCancelRequest, "CancelRequest"},
		{OpEnumerationReply, "EnumerationReply"},
		{OpAddressInfoReply, "AddressInfoReply"},
		{OpCode(40), "OpCode(40)"},
	}

	for _, test := range tests {
		if got := test.op.String(); got != test.expected {
			t.Errorf("OpCode(%d).String() = %q, want %q", uint32(test.op), got, test.expected)
		}
	}
}

func TestOpCode_Values(t *testing.T) {
	assert.Equal(t, OpCode(19), OpConnectionDelegateRequest)
	assert.Equal(t, OpCode(64), OpEnumerationReply)
	assert.Equal(t, OpCode(66), OpBrowseReply)
	assert.Equal(t, OpCode(69), OpRegisterRecordReply)
	assert.Equal(t, OpCode(72), OpAddressInfoReply)
	assert.True(t, OpBrowseReply.IsReply())
	assert.False(t, OpCancelRequest.IsReply())
}
