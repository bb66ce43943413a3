package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/store/memory"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memBlobs) lines(t *testing.T, path string) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	require.True(t, ok, "missing %s", path)
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

// streamBus is a SignalBus whose stream is a slice; ids are 1-based indexes.
type streamBus struct {
	entries [][]byte
}

func (b *streamBus) Publish(context.Context, string, []byte) error { return nil }

func (b *streamBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *streamBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.entries = append(b.entries, payload)
	return nil
}

func (b *streamBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := 0
	if lastID != "0" {
		for i := range b.entries {
			if itoa(i+1) == lastID {
				start = i + 1
			}
		}
	}
	var out []domain.StreamMessage
	for i := start; i < len(b.entries) && len(out) < count; i++ {
		out = append(out, domain.StreamMessage{ID: itoa(i + 1), Payload: b.entries[i]})
	}
	return out, nil
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func newTestArchiver(bus domain.SignalBus, sovs SovereignLister) (*Archiver, *memBlobs, *memory.AuditStore) {
	blobs := newMemBlobs()
	audit := memory.NewAuditStore()
	return NewArchiver(blobs, blobs, audit, bus, sovs, slog.New(slog.NewJSONHandler(io.Discard, nil))), blobs, audit
}

func TestArchiveAudit(t *testing.T) {
	ctx := context.Background()
	a, blobs, audit := newTestArchiver(nil, memory.New().Stores().Sovereigns)
	require.NoError(t, audit.Log(ctx, "pledged", map[string]any{"amount": 1}))
	require.NoError(t, audit.Log(ctx, "withdrawn", map[string]any{"amount": 2}))

	before := time.Now().UTC().Add(time.Hour)
	n, err := a.ArchiveAudit(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	path := archivePath("audit", before)
	assert.Len(t, blobs.lines(t, path), 2)

	// The archive itself is audited, and the month is not uploaded twice.
	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, "archive.audit", entries[0].Event)

	n, err = a.ArchiveAudit(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestArchiveEvents_StopsAtCutoff(t *testing.T) {
	ctx := context.Background()
	bus := &streamBus{}
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{cutoff.Add(-48 * time.Hour), cutoff.Add(-time.Hour), cutoff, cutoff.Add(time.Hour)} {
		payload, err := json.Marshal(domain.Event{Type: domain.EventPledged, SovereignID: 1, At: at})
		require.NoError(t, err)
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamSovereignEvents, payload))
	}

	a, blobs, _ := newTestArchiver(bus, memory.New().Stores().Sovereigns)
	n, err := a.ArchiveEvents(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, blobs.lines(t, "archive/events/2026-03.jsonl"), 2)
}

func TestArchiveEvents_NoBus(t *testing.T) {
	a, _, _ := newTestArchiver(nil, memory.New().Stores().Sovereigns)
	n, err := a.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSnapshotSovereigns(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	var growth uint256.Int
	growth.Lsh(uint256.NewInt(1), 70)
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, store.Stores().Sovereigns.Create(ctx, domain.Sovereign{
			ID:                 id,
			Creator:            common.HexToAddress("0x00000000000000000000000000000000000000c1"),
			Phase:              domain.PhaseActive,
			FeeGrowthSnapshotA: growth,
		}))
	}

	a, blobs, _ := newTestArchiver(nil, store.Stores().Sovereigns)
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	n, err := a.SnapshotSovereigns(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	lines := blobs.lines(t, "snapshots/sovereigns/2026-03-14.jsonl")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"FeeGrowthSnapshotA":"1180591620717411303424"`)
}
