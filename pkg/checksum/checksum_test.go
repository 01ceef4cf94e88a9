package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "empty input yields zero digest",
			input: nil,
			want:  "sha256:0000000000000000000000000000000000000000000000000000000000000000",
		},
		{
			name:  "abc",
			input: []byte("abc"),
			want:  "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestVerify(t *testing.T) {
	data := []byte("unikernel")
	dgst, err := Calculate(data)
	require.NoError(t, err)

	ok, err := Verify(data, dgst)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify([]byte("other"), dgst)
	require.NoError(t, err)
	assert.False(t, ok)
}
