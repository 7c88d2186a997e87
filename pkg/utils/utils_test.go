package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		require.Len(t, id, 24)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestDebugIDContext(t *testing.T) {
	assert.Equal(t, "", DebugID(context.Background()))

	id := NewDebugID()
	assert.Len(t, id, 6)

	ctx := WithDebugID(context.Background(), id)
	assert.Equal(t, id, DebugID(ctx))
}

func TestIsText(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"ascii", []byte("hello world\n"), true},
		{"utf8", []byte("溫度 25°C"), true},
		{"empty", nil, true},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), false},
		{"nul bytes", []byte{0x00, 0x01, 0x02, 0x03}, false},
		{"invalid utf8", []byte("abc\xff\xfedef"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsText(tt.data))
		})
	}
}
