package buildinfo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextGetters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ctx     *Context
		version string
		date    string
		system  string
	}{
		{
			name:    "nil context",
			ctx:     nil,
			version: UnknownValue,
			date:    UnknownValue,
			system:  UnknownValue,
		},
		{
			name:    "empty fields",
			ctx:     &Context{},
			version: UnknownValue,
			date:    UnknownValue,
			system:  UnknownValue,
		},
		{
			name:    "populated",
			ctx:     NewContext("1.2.0", "2026-03-01", "chair-3"),
			version: "1.2.0",
			date:    "2026-03-01",
			system:  "chair-3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.date, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.system, tt.ctx.GetSystemID())
		})
	}
}

func TestNewContextGeneratesSystemID(t *testing.T) {
	t.Parallel()

	a := NewContext("1.0.0", "", "")
	b := NewContext("1.0.0", "", "")

	_, err := uuid.Parse(a.GetSystemID())
	require.NoError(t, err)
	assert.NotEqual(t, a.GetSystemID(), b.GetSystemID())
	assert.Equal(t, UnknownValue, a.GetBuildDate())
}

func TestContextImplementsBuildInfo(t *testing.T) {
	t.Parallel()

	var info BuildInfo = NewContext("dev", "today", "id")
	assert.Equal(t, "dev", info.GetVersion())
	assert.Equal(t, "chairside@dev", NewContext("dev", "", "id").Release())
	assert.Equal(t, "chairside@unknown", (*Context)(nil).Release())
}
