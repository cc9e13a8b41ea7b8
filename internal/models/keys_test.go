package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionedKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    VersionedKey
		wantErr bool
	}{
		{
			name:  "meta key",
			input: "s1/o1/meta/0",
			want:  MetaKey("s1", "o1"),
		},
		{
			name:  "content branch",
			input: "s1/o1/content/12",
			want:  ContentKey("s1", "o1", 12),
		},
		{name: "too few parts", input: "s1/o1/meta", wantErr: true},
		{name: "empty object", input: "s1//meta/0", wantErr: true},
		{name: "unknown component", input: "s1/o1/xattr/0", wantErr: true},
		{name: "negative branch", input: "s1/o1/content/-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersionedKey(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestVersionedKey_AsJSONMapKey(t *testing.T) {
	in := map[VersionedKey]int{
		ContentKey("s", "o", 1): 1,
		MetaKey("s", "o"):       2,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"s/o/content/1"`)

	var out map[VersionedKey]int
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestVersionedKey_With(t *testing.T) {
	k := ContentKey("s", "o", 0)

	assert.True(t, k.Branch.IsMaster())
	assert.False(t, k.WithBranch(3).Branch.IsMaster())
	assert.Equal(t, ObjectID("other"), k.WithObject("other").Object)
	assert.Equal(t, ObjectKey{Store: "s", Object: "o"}, k.ObjectKey())
	// исходный ключ не изменяется
	assert.Equal(t, ObjectID("o"), k.Object)
}

func TestActivityType_String(t *testing.T) {
	assert.Equal(t, "none", ActivityType(0).String())
	assert.Equal(t, "create", ActivityCreation.String())
	assert.Equal(t, "create|move", (ActivityCreation | ActivityMovement).String())
	assert.True(t, (ActivityModification | ActivityDeletion).Has(ActivityDeletion))
	assert.False(t, ActivityModification.Has(ActivityDeletion))
}

func TestContentHash_Equal(t *testing.T) {
	assert.True(t, ContentHash{1, 2}.Equal(ContentHash{1, 2}))
	assert.False(t, ContentHash{1, 2}.Equal(ContentHash{1, 3}))
	// nil хеш никогда не равен другому хешу
	assert.False(t, ContentHash(nil).Equal(nil))
	assert.False(t, ContentHash{}.Equal(nil))
}
