package peer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/collector"
	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/publish"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/storage/boltdb"
	"github.com/iudanet/gophsync/internal/trans"
	"github.com/iudanet/gophsync/internal/versionctl"
	"github.com/iudanet/gophsync/pkg/api"
)

const (
	local  models.DeviceID = "device-b"
	remote models.DeviceID = "device-a"
)

type fixture struct {
	core     *core.Core
	tokens   *core.TokenManager
	txm      *trans.Manager
	vc       *versionctl.Control
	receiver *Receiver
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := boltdb.New(ctx, filepath.Join(t.TempDir(), "peer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		core: core.New(nil, logger),
		txm:  trans.NewManager(s, logger),
	}
	f.tokens = core.NewTokenManager(f.core, map[core.Category]int64{core.CategoryNetwork: 1})
	f.vc, err = versionctl.New(ctx, s, f.txm, local, collector.New(logger), 16, logger)
	require.NoError(t, err)
	f.receiver = NewReceiver(f.core, f.tokens, f.txm, f.vc, local, logger)

	srv := NewServer(ServerConfig{Version: "test", RateLimit: 100, RateWindow: time.Minute}, local, f.receiver, nil, logger)
	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) kml(t *testing.T, key models.VersionedKey) crdt.Version {
	t.Helper()
	var v crdt.Version
	require.NoError(t, f.txm.View(context.Background(), func(tx storage.Tx) error {
		var err error
		v, err = f.vc.KMLVersion(tx, key)
		return err
	}))
	return v
}

func TestBroadcastReachesPeer(t *testing.T) {
	f := newFixture(t)
	key := models.ContentKey("s1", "o1", models.MasterBranch)

	b := NewBroadcaster(remote, []string{f.server.URL}, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, 1, b.Peers())

	updates := []publish.Update{{Key: key, Version: crdt.Of(remote, 2, 4)}}
	require.NoError(t, b.Broadcast(context.Background(), updates))
	assert.True(t, f.kml(t, key).Equal(crdt.Of(remote, 2, 4)))

	// повторное уведомление не добавляет новых тиков
	client := NewClient(f.server.URL, remote, time.Second)
	resp, err := client.SendUpdates(context.Background(), api.UpdatesRequest{
		Device: string(remote),
		Updates: []api.UpdateEntry{{
			Key:     key.String(),
			Version: map[string][]uint64{string(remote): {2, 4, 6}, string(local): {2}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, &api.UpdatesResponse{Received: 1, Known: 3}, resp)
	assert.True(t, f.kml(t, key).Equal(crdt.Of(remote, 2, 4, 6)))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	health, err := NewClient(f.server.URL+"/", remote, time.Second).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &api.HealthResponse{Status: "ok", Device: string(local), Version: "test"}, health)
}

func TestReceiver_NoNetworkToken(t *testing.T) {
	f := newFixture(t)
	key := models.MetaKey("s1", "o1")

	var tok *core.Token
	require.NoError(t, f.core.Exec(func() error {
		var err error
		tok, err = f.tokens.Acquire(core.CategoryNetwork, "test")
		return err
	}))

	client := NewClient(f.server.URL, remote, time.Second)
	req := api.UpdatesRequest{
		Device:  string(remote),
		Updates: []api.UpdateEntry{{Key: key.String(), Version: map[string][]uint64{string(remote): {2}}}},
	}
	_, err := client.SendUpdates(context.Background(), req)
	assert.ErrorContains(t, err, "503")
	assert.True(t, f.kml(t, key).IsZero())

	tok.Release()
	_, err = client.SendUpdates(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, f.kml(t, key).Equal(crdt.Of(remote, 2)))
}

func TestBroadcaster_CollectsPeerErrors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "broken"})
	}))
	defer failing.Close()

	var got api.UpdatesRequest
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, string(remote), r.Header.Get("X-Gophsync-Device"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(api.UpdatesResponse{Received: 1})
	}))
	defer healthy.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	b := NewBroadcaster(remote, []string{failing.URL, healthy.URL, closedURL}, time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := b.Broadcast(context.Background(), []publish.Update{
		{Key: models.MetaKey("s1", "o1"), Version: crdt.Of(remote, 2)},
	})
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.ErrorContains(t, err, "broken")
	assert.Equal(t, string(remote), got.Device)
	require.Len(t, got.Updates, 1)
}

func TestBroadcaster_NothingToSend(t *testing.T) {
	b := NewBroadcaster(remote, nil, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, b.Broadcast(context.Background(), []publish.Update{
		{Key: models.MetaKey("s1", "o1"), Version: crdt.Of(remote, 2)},
	}))
}
