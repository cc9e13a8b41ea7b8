package crdt

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/models"
)

const (
	devA models.DeviceID = "device-a"
	devB models.DeviceID = "device-b"
	devC models.DeviceID = "device-c"
)

// versionCmp сравнивает версии по содержимому, а не по внутреннему представлению
var versionCmp = cmp.Comparer(func(x, y Version) bool { return x.Equal(y) })

func TestVersion_Union(t *testing.T) {
	tests := []struct {
		name string
		a    Version
		b    Version
		want Version
	}{
		{
			name: "disjoint devices",
			a:    Of(devA, 2, 4),
			b:    Of(devB, 6),
			want: FromEntries(Entry{devA, 2}, Entry{devA, 4}, Entry{devB, 6}),
		},
		{
			name: "same device accumulates ticks",
			a:    Of(devA, 2),
			b:    Of(devA, 8),
			want: Of(devA, 2, 8),
		},
		{
			name: "union with zero",
			a:    Version{},
			b:    Of(devC, 3),
			want: Of(devC, 3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Union(tt.b)
			if diff := cmp.Diff(tt.want, got, versionCmp); diff != "" {
				t.Errorf("Union() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVersion_UnionThenDifference(t *testing.T) {
	// для версий с непересекающимися устройствами v1.union(v2).difference(v2) == v1
	v1 := FromEntries(Entry{devA, 2}, Entry{devA, 10}, Entry{devC, 5})
	v2 := FromEntries(Entry{devB, 4}, Entry{devB, 6})

	got := v1.Union(v2).Difference(v2)
	assert.True(t, got.Equal(v1), "got %s, want %s", got, v1)
}

func TestVersion_Difference_RemovesExactPairs(t *testing.T) {
	v := Of(devA, 2, 4, 6)

	got := v.Difference(Of(devA, 4).Union(Of(devB, 2)))

	assert.True(t, got.Equal(Of(devA, 2, 6)))
	assert.True(t, Of(devA, 2).Difference(Of(devA, 2)).IsZero())
}

func TestVersion_IsShadowedBy(t *testing.T) {
	big := FromEntries(Entry{devA, 2}, Entry{devA, 4}, Entry{devB, 6})

	assert.True(t, Of(devA, 4).IsShadowedBy(big))
	assert.True(t, Version{}.IsShadowedBy(big))
	assert.True(t, big.IsShadowedBy(big))
	assert.False(t, Of(devA, 8).IsShadowedBy(big))
	assert.False(t, big.IsShadowedBy(Of(devA, 2, 4)))
}

func TestVersion_Intersect(t *testing.T) {
	a := FromEntries(Entry{devA, 2}, Entry{devB, 4})
	b := FromEntries(Entry{devA, 2}, Entry{devB, 6})

	assert.True(t, a.Intersect(b).Equal(Of(devA, 2)))
	assert.True(t, a.Intersect(Version{}).IsZero())
}

func TestVersion_DeviceSetAndTicks(t *testing.T) {
	v := FromEntries(Entry{devB, 6}, Entry{devA, 4}, Entry{devA, 2})

	assert.Equal(t, []models.DeviceID{devA, devB}, v.DeviceSet())
	assert.Equal(t, []Tick{2, 4}, v.Ticks(devA))
	assert.Equal(t, Tick(4), v.Max(devA))
	assert.Equal(t, Zero, v.Max(devC))
	assert.Equal(t, 3, v.Len())
	assert.True(t, v.Only(devA).Equal(Of(devA, 2, 4)))
	assert.Empty(t, Version{}.DeviceSet())
}

func TestVersion_Immutability(t *testing.T) {
	base := Of(devA, 2)

	_ = base.With(devA, 4)
	_ = base.Union(Of(devB, 2))

	assert.True(t, base.Equal(Of(devA, 2)), "operations must not mutate the receiver")
}

func TestVersion_ZeroTickIgnored(t *testing.T) {
	v := Of(devA, Zero)

	assert.True(t, v.IsZero())
	assert.Empty(t, v.DeviceSet())
}

func TestVersion_JSON(t *testing.T) {
	v := FromEntries(Entry{devA, 2}, Entry{devA, 3}, Entry{devB, 8})

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"device-a":[2,3],"device-b":[8]}`, string(data))

	var decoded Version
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(v, decoded, versionCmp); diff != "" {
		t.Errorf("decoded version mismatch (-want +got):\n%s", diff)
	}

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &decoded))
}

func TestVersion_String(t *testing.T) {
	v := FromEntries(Entry{devB, 3}, Entry{devA, 4}, Entry{devA, 2})

	assert.Equal(t, "{device-a:[2 4] device-b:[3a]}", v.String())
	assert.Equal(t, "{}", Version{}.String())
}
