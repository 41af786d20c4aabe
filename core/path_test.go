package img

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"simple", "a.dff", nil},
		{"max length", strings.Repeat("x", MaxNameLen), nil},
		{"one over", strings.Repeat("x", MaxNameLen+1), ErrNameTooLong},
		{"empty", "", ErrInvalidName},
		{"embedded nul", "a\x00b", ErrInvalidName},
		{"slashes are storable", "dir/file", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateName(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDirOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/data/models", dirOf("/data/models/gta3.img"))
	assert.Equal(t, ".", dirOf("gta3.img"))
}
