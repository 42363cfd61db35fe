package picker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailable(t *testing.T) {
	ref, err := Unavailable.Pick(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, ref)
}

func TestFunc(t *testing.T) {
	p := Func(func(context.Context) (string, error) { return "content://media/42", nil })
	ref, err := p.Pick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "content://media/42", ref)
}

func TestFilePicker(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "cat.png")
	require.NoError(t, os.WriteFile(image, []byte("not really a png"), 0o600))

	tests := []struct {
		name    string
		picker  FilePicker
		wantErr error
		check   func(t *testing.T, ref string, err error)
	}{
		{
			name:   "existing file",
			picker: Path(image),
			check: func(t *testing.T, ref string, err error) {
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(ref, "file://"))
				assert.True(t, strings.HasSuffix(ref, "/cat.png"))
			},
		},
		{
			name:    "blank answer",
			picker:  Path("   "),
			wantErr: ErrNoSelection,
		},
		{
			name:    "no prompt",
			picker:  FilePicker{},
			wantErr: ErrUnavailable,
		},
		{
			name:   "missing file",
			picker: Path(filepath.Join(dir, "missing.png")),
			check: func(t *testing.T, _ string, err error) {
				assert.ErrorIs(t, err, os.ErrNotExist)
			},
		},
		{
			name:   "directory",
			picker: Path(dir),
			check: func(t *testing.T, _ string, err error) {
				assert.Error(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := tt.picker.Pick(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			tt.check(t, ref, err)
		})
	}
}
