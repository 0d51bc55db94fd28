package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"

	"github.com/edu292/stremtui/internal/domain"
	"github.com/edu292/stremtui/internal/domain/ports"
)

// addTorrentTimeout caps the time we wait for the anacrolix client to accept
// a magnet link. AddTorrentSpec can block on an internal client mutex when
// the client is busy resolving metadata for another torrent.
const addTorrentTimeout = 10 * time.Second

type Config struct {
	// DataDir is where the client stores downloaded payload files.
	DataDir string
	// Routers are DHT bootstrap nodes ("host:port") announced to every
	// registered transfer so magnets resolve even with an empty tracker list.
	Routers []string
	Logger  *slog.Logger
}

// Engine wraps an anacrolix torrent client behind the ports.Engine contract.
// Transfers are keyed by infohash; registering the same infohash twice merges
// tracker tiers into the existing transfer instead of starting a new one.
type Engine struct {
	client  *torrent.Client
	dataDir string
	routers []string
	logger  *slog.Logger

	mu        sync.RWMutex
	transfers map[string]*Transfer
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("torrent client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		client:    client,
		dataDir:   clientConfig.DataDir,
		routers:   cfg.Routers,
		logger:    logger,
		transfers: make(map[string]*Transfer),
	}, nil
}

func (e *Engine) Register(ctx context.Context, stream domain.Stream, trackers []string) (ports.Transfer, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	spec, err := torrent.TorrentSpecFromMagnetUri(stream.MagnetLink())
	if err != nil {
		return nil, fmt.Errorf("parse magnet: %w", err)
	}
	announce := domain.MergeTrackers(trackers, stream.Sources)
	if len(announce) > 0 {
		spec.Trackers = append(spec.Trackers, announce)
	}
	if stream.Title != "" && spec.DisplayName == "" {
		spec.DisplayName = stream.Title
	}

	// AddTorrentSpec with a timeout so callers never block indefinitely on
	// the client's internal mutex.
	type addResult struct {
		t   *torrent.Torrent
		new bool
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, isNew, err := e.client.AddTorrentSpec(spec)
		ch <- addResult{t, isNew, err}
	}()

	var t *torrent.Torrent
	var isNew bool
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, res.err)
		}
		t = res.t
		isNew = res.new
	case <-time.After(addTorrentTimeout):
		go func() {
			if res := <-ch; res.t != nil && res.new {
				res.t.Drop()
			}
		}()
		return nil, fmt.Errorf("%w: torrent client busy", domain.ErrEngineFailure)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil && res.new {
				res.t.Drop()
			}
		}()
		return nil, ctx.Err()
	}

	id := t.InfoHash().HexString()

	e.mu.Lock()
	if existing, ok := e.transfers[id]; ok {
		e.mu.Unlock()
		// Same infohash registered again: AddTorrentSpec already merged the
		// new tracker tier into the running torrent.
		return existing, nil
	}
	tr := &Transfer{engine: e, torrent: t, id: id, dataDir: e.dataDir}
	e.transfers[id] = tr
	e.mu.Unlock()

	if isNew {
		// Hold network activity until a file is chosen. StartRetrieval flips
		// these back on once the playback flow knows what to fetch.
		t.DisallowDataDownload()
		t.DisallowDataUpload()
		if len(e.routers) > 0 {
			e.client.AddDhtNodes(e.routers)
		}
	}

	e.logger.Info("transfer registered",
		slog.String("infoHash", id),
		slog.Bool("new", isNew),
		slog.Int("trackers", len(announce)),
	)
	return tr, nil
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.transfers, id)
	e.mu.Unlock()
	// Return memory to the OS promptly after dropping a transfer. The GC may
	// otherwise hold freed piece buffers long enough to OOM small hosts.
	runtime.GC()
	debug.FreeOSMemory()
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

// stateBlob is the on-disk shape of the persisted DHT routing state. The
// compact node encoding is the same one the wire protocol uses.
type stateBlob struct {
	Nodes krpc.CompactIPv4NodeInfo `bencode:"nodes"`
}

// StateBlob snapshots the DHT routing tables so the next run can rejoin the
// swarm without waiting on the public bootstrap routers.
func (e *Engine) StateBlob() ([]byte, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}

	var blob stateBlob
	for _, s := range e.client.DhtServers() {
		wrapper, ok := s.(torrent.AnacrolixDhtServerWrapper)
		if !ok {
			continue
		}
		for _, ni := range wrapper.Server.Nodes() {
			if ni.Addr.IP.To4() == nil {
				continue
			}
			blob.Nodes = append(blob.Nodes, ni)
		}
	}

	data, err := bencode.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("encode dht state: %w", err)
	}
	return data, nil
}

// SeedState feeds a previously captured StateBlob back into the DHT servers.
// Unknown or stale nodes are harmless, the routing table drops them on its
// own, so decode errors are the only hard failure.
func (e *Engine) SeedState(blob []byte) error {
	if e.client == nil {
		return errors.New("torrent client not configured")
	}
	if len(blob) == 0 {
		return nil
	}

	var state stateBlob
	if err := bencode.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("decode dht state: %w", err)
	}

	seeded := 0
	for _, s := range e.client.DhtServers() {
		wrapper, ok := s.(torrent.AnacrolixDhtServerWrapper)
		if !ok {
			continue
		}
		for _, ni := range state.Nodes {
			if err := wrapper.Server.AddNode(ni); err == nil {
				seeded++
			}
		}
	}

	e.logger.Info("dht state seeded",
		slog.Int("persisted", len(state.Nodes)),
		slog.Int("accepted", seeded),
	)
	return nil
}
