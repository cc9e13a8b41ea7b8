package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStoreID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid - lowercase",
			id:      "photos",
			wantErr: false,
		},
		{
			name:    "valid - with dash and underscore",
			id:      "team_docs-2024",
			wantErr: false,
		},
		{
			name:    "valid - single char",
			id:      "a",
			wantErr: false,
		},
		{
			name:    "valid - max length",
			id:      strings.Repeat("s", 64),
			wantErr: false,
		},
		{
			name:    "invalid - empty",
			id:      "",
			wantErr: true,
			errMsg:  "store id cannot be empty",
		},
		{
			name:    "invalid - too long",
			id:      strings.Repeat("s", 65),
			wantErr: true,
			errMsg:  "must not exceed 64 characters",
		},
		{
			name:    "invalid - leading dash",
			id:      "-docs",
			wantErr: true,
			errMsg:  "can only contain",
		},
		{
			name:    "invalid - meta dir",
			id:      ".gophsync",
			wantErr: true,
			errMsg:  "can only contain",
		},
		{
			name:    "invalid - with slash",
			id:      "a/b",
			wantErr: true,
			errMsg:  "can only contain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStoreID(tt.id)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateObjectPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid - file",
			path:    "a.txt",
			wantErr: false,
		},
		{
			name:    "valid - nested",
			path:    "docs/2024/report.pdf",
			wantErr: false,
		},
		{
			name:    "valid - dotfile",
			path:    "docs/.hidden",
			wantErr: false,
		},
		{
			name:    "invalid - empty",
			path:    "",
			wantErr: true,
			errMsg:  "path cannot be empty",
		},
		{
			name:    "invalid - absolute",
			path:    "/etc/passwd",
			wantErr: true,
			errMsg:  "must be relative",
		},
		{
			name:    "invalid - parent",
			path:    "../a.txt",
			wantErr: true,
			errMsg:  "must not contain",
		},
		{
			name:    "invalid - not clean",
			path:    "docs//a.txt",
			wantErr: true,
			errMsg:  "is not clean",
		},
		{
			name:    "invalid - trailing slash",
			path:    "docs/",
			wantErr: true,
			errMsg:  "is not clean",
		},
		{
			name:    "invalid - dot",
			path:    ".",
			wantErr: true,
			errMsg:  "must not contain",
		},
		{
			name:    "invalid - nul",
			path:    "a\x00b",
			wantErr: true,
			errMsg:  "NUL",
		},
		{
			name:    "invalid - too long",
			path:    strings.Repeat("a", MaxPathLen+1),
			wantErr: true,
			errMsg:  "must not exceed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObjectPath(tt.path)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
