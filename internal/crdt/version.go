// Package crdt implements the version-vector types shared by the sync engine.
//
// A Version is a sparse map from device to the *set* of ticks that device
// contributed. Devices contribute many, possibly non-contiguous ticks over time,
// so a single per-device watermark is not enough. Versions are immutable: every
// operation returns a new value and the zero Version is empty and ready to use.
package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/iudanet/gophsync/internal/models"
)

type tickSet map[Tick]struct{}

// Version is a sparse mapping DeviceID -> set of Ticks.
type Version struct {
	ticks map[models.DeviceID]tickSet
}

// Entry is a single (device, tick) pair of a Version.
type Entry struct {
	Device models.DeviceID `json:"device"`
	Tick   Tick            `json:"tick"`
}

// Of returns a version holding the given ticks of one device.
func Of(device models.DeviceID, ticks ...Tick) Version {
	v := Version{}
	for _, t := range ticks {
		v = v.with(device, t)
	}
	return v
}

// FromEntries builds a version from (device, tick) pairs.
func FromEntries(entries ...Entry) Version {
	v := Version{}
	for _, e := range entries {
		v = v.with(e.Device, e.Tick)
	}
	return v
}

// with добавляет пару в копию версии; Zero тики игнорируются.
func (v Version) with(device models.DeviceID, tick Tick) Version {
	if tick.IsZero() {
		return v
	}
	out := v.clone()
	set, ok := out.ticks[device]
	if !ok {
		set = make(tickSet)
		out.ticks[device] = set
	}
	set[tick] = struct{}{}
	return out
}

func (v Version) clone() Version {
	out := Version{ticks: make(map[models.DeviceID]tickSet, len(v.ticks))}
	for d, set := range v.ticks {
		cp := make(tickSet, len(set))
		for t := range set {
			cp[t] = struct{}{}
		}
		out.ticks[d] = cp
	}
	return out
}

// With returns a copy of v that also contains (device, tick).
func (v Version) With(device models.DeviceID, tick Tick) Version {
	return v.with(device, tick)
}

// Union returns the entry-wise union of v and other.
func (v Version) Union(other Version) Version {
	out := v.clone()
	for d, set := range other.ticks {
		dst, ok := out.ticks[d]
		if !ok {
			dst = make(tickSet, len(set))
			out.ticks[d] = dst
		}
		for t := range set {
			dst[t] = struct{}{}
		}
	}
	return out
}

// Difference returns v without the (device, tick) pairs that also appear in other.
func (v Version) Difference(other Version) Version {
	out := Version{ticks: make(map[models.DeviceID]tickSet, len(v.ticks))}
	for d, set := range v.ticks {
		rm := other.ticks[d]
		for t := range set {
			if _, ok := rm[t]; ok {
				continue
			}
			dst, ok := out.ticks[d]
			if !ok {
				dst = make(tickSet)
				out.ticks[d] = dst
			}
			dst[t] = struct{}{}
		}
	}
	return out
}

// Intersect returns the (device, tick) pairs present in both versions.
func (v Version) Intersect(other Version) Version {
	out := Version{ticks: make(map[models.DeviceID]tickSet)}
	for d, set := range v.ticks {
		o := other.ticks[d]
		for t := range set {
			if _, ok := o[t]; !ok {
				continue
			}
			dst, ok := out.ticks[d]
			if !ok {
				dst = make(tickSet)
				out.ticks[d] = dst
			}
			dst[t] = struct{}{}
		}
	}
	return out
}

// Only returns the part of v contributed by device.
func (v Version) Only(device models.DeviceID) Version {
	return Of(device, v.Ticks(device)...)
}

// IsZero reports whether v holds no ticks at all.
func (v Version) IsZero() bool {
	for _, set := range v.ticks {
		if len(set) > 0 {
			return false
		}
	}
	return true
}

// IsShadowedBy reports whether every (device, tick) in v also appears in other.
func (v Version) IsShadowedBy(other Version) bool {
	for d, set := range v.ticks {
		o := other.ticks[d]
		for t := range set {
			if _, ok := o[t]; !ok {
				return false
			}
		}
	}
	return true
}

// Equal reports whether both versions hold exactly the same pairs.
func (v Version) Equal(other Version) bool {
	return v.IsShadowedBy(other) && other.IsShadowedBy(v)
}

// Contains reports whether (device, tick) is part of v.
func (v Version) Contains(device models.DeviceID, tick Tick) bool {
	_, ok := v.ticks[device][tick]
	return ok
}

// DeviceSet returns the devices that contributed at least one tick, sorted.
func (v Version) DeviceSet() []models.DeviceID {
	devices := make([]models.DeviceID, 0, len(v.ticks))
	for d, set := range v.ticks {
		if len(set) > 0 {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	return devices
}

// Ticks returns the ticks contributed by device in ascending order.
func (v Version) Ticks(device models.DeviceID) []Tick {
	set := v.ticks[device]
	ticks := make([]Tick, 0, len(set))
	for t := range set {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

// Max returns the greatest tick contributed by device, or Zero.
func (v Version) Max(device models.DeviceID) Tick {
	var greatest Tick
	for t := range v.ticks[device] {
		if t > greatest {
			greatest = t
		}
	}
	return greatest
}

// Entries returns all pairs ordered by device, then tick.
func (v Version) Entries() []Entry {
	var entries []Entry
	for _, d := range v.DeviceSet() {
		for _, t := range v.Ticks(d) {
			entries = append(entries, Entry{Device: d, Tick: t})
		}
	}
	return entries
}

// Len returns the number of (device, tick) pairs.
func (v Version) Len() int {
	n := 0
	for _, set := range v.ticks {
		n += len(set)
	}
	return n
}

// String returns a compact deterministic form, e.g. "{dev1:[2 4] dev2:[3a]}".
func (v Version) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, d := range v.DeviceSet() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%v", d, v.Ticks(d))
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON encodes the version as {"device": [ticks...]}.
func (v Version) MarshalJSON() ([]byte, error) {
	m := make(map[models.DeviceID][]Tick, len(v.ticks))
	for _, d := range v.DeviceSet() {
		m[d] = v.Ticks(d)
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (v *Version) UnmarshalJSON(data []byte) error {
	var m map[models.DeviceID][]Tick
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode version: %w", err)
	}
	out := Version{}
	for d, ticks := range m {
		for _, t := range ticks {
			out = out.with(d, t)
		}
	}
	*v = out
	return nil
}
