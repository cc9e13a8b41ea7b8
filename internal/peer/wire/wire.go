// Package wire converts engine updates to and from the peer API messages.
package wire

import (
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/publish"
	"github.com/iudanet/gophsync/pkg/api"
)

// ErrEmptyDevice indicates a notification without sender
var ErrEmptyDevice = errors.New("sender device is empty")

// Encode builds the notification of device about updates.
func Encode(device models.DeviceID, updates []publish.Update) api.UpdatesRequest {
	req := api.UpdatesRequest{
		Device:  string(device),
		Updates: make([]api.UpdateEntry, 0, len(updates)),
	}
	for _, u := range updates {
		req.Updates = append(req.Updates, api.UpdateEntry{
			Key:     u.Key.String(),
			Version: encodeVersion(u.Version),
		})
	}
	return req
}

// Decode parses a notification. Zero ticks are rejected.
func Decode(req api.UpdatesRequest) (models.DeviceID, []publish.Update, error) {
	if req.Device == "" {
		return "", nil, ErrEmptyDevice
	}

	updates := make([]publish.Update, 0, len(req.Updates))
	for i, e := range req.Updates {
		key, err := models.ParseVersionedKey(e.Key)
		if err != nil {
			return "", nil, fmt.Errorf("update %d: %w", i, err)
		}
		v, err := decodeVersion(e.Version)
		if err != nil {
			return "", nil, fmt.Errorf("update %d: %w", i, err)
		}
		updates = append(updates, publish.Update{Key: key, Version: v})
	}
	return models.DeviceID(req.Device), updates, nil
}

func encodeVersion(v crdt.Version) map[string][]uint64 {
	devices := v.DeviceSet()
	out := make(map[string][]uint64, len(devices))
	for _, d := range devices {
		ticks := v.Ticks(d)
		raw := make([]uint64, 0, len(ticks))
		for _, t := range ticks {
			raw = append(raw, uint64(t))
		}
		out[string(d)] = raw
	}
	return out
}

func decodeVersion(m map[string][]uint64) (crdt.Version, error) {
	var entries []crdt.Entry
	for d, ticks := range m {
		if d == "" {
			return crdt.Version{}, ErrEmptyDevice
		}
		for _, t := range ticks {
			if t == 0 {
				return crdt.Version{}, fmt.Errorf("zero tick of device %s", d)
			}
			entries = append(entries, crdt.Entry{Device: models.DeviceID(d), Tick: crdt.Tick(t)})
		}
	}
	return crdt.FromEntries(entries...), nil
}
