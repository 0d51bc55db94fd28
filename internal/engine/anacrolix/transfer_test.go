package anacrolix

import (
	"testing"

	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/torrent/bencode"
)

func TestContiguousHead(t *testing.T) {
	const pieceLength = 1 << 20

	completeSet := func(pieces ...int) func(int) bool {
		set := map[int]bool{}
		for _, p := range pieces {
			set[p] = true
		}
		return func(p int) bool { return set[p] }
	}

	tests := []struct {
		name       string
		fileOffset int64
		fileLength int64
		complete   func(int) bool
		want       int64
	}{
		{
			name:       "nothing complete",
			fileOffset: 0, fileLength: 10 << 20,
			complete: completeSet(),
			want:     0,
		},
		{
			name:       "head run stops at first gap",
			fileOffset: 0, fileLength: 100 << 20,
			complete: completeSet(0, 1, 2, 4, 5),
			want:     3 << 20,
		},
		{
			name:       "completed tail does not count without the head",
			fileOffset: 0, fileLength: 100 << 20,
			complete: completeSet(96, 97, 98, 99),
			want:     0,
		},
		{
			name:       "completed tail does not extend a short head run",
			fileOffset: 0, fileLength: 100 << 20,
			complete: completeSet(0, 1, 96, 97, 98, 99),
			want:     2 << 20,
		},
		{
			name:       "every piece complete caps at file length",
			fileOffset: 0, fileLength: 10<<20 + 512,
			complete: func(int) bool { return true },
			want:     10<<20 + 512,
		},
		{
			name:       "file not aligned to piece boundary counts only its overlap",
			fileOffset: 512 << 10, fileLength: 10 << 20,
			complete: completeSet(0, 1),
			want:     (1<<20 - 512<<10) + 1<<20,
		},
		{
			name:       "first piece of unaligned file incomplete",
			fileOffset: 512 << 10, fileLength: 10 << 20,
			complete: completeSet(1, 2),
			want:     0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := contiguousHead(pieceLength, tc.fileOffset, tc.fileLength, tc.complete)
			if got != tc.want {
				t.Errorf("contiguousHead = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPieceSpan(t *testing.T) {
	const pieceLength = 1 << 20 // 1 MiB pieces

	tests := []struct {
		name       string
		fileOffset int64
		fileLength int64
		off        int64
		length     int64
		wantStart  int
		wantEnd    int
		wantOK     bool
	}{
		{
			name:       "window at file start",
			fileOffset: 0, fileLength: 100 << 20,
			off: 0, length: 8 << 20,
			wantStart: 0, wantEnd: 8, wantOK: true,
		},
		{
			name:       "file does not start on a piece boundary",
			fileOffset: 1<<20 + 512<<10, fileLength: 100 << 20,
			off: 0, length: 1 << 20,
			wantStart: 1, wantEnd: 3, wantOK: true,
		},
		{
			name:       "window clamped to file end",
			fileOffset: 0, fileLength: 10 << 20,
			off: 8 << 20, length: 64 << 20,
			wantStart: 8, wantEnd: 10, wantOK: true,
		},
		{
			name:       "offset past file end",
			fileOffset: 0, fileLength: 10 << 20,
			off: 11 << 20, length: 1 << 20,
			wantOK: false,
		},
		{
			name:       "negative offset clamps to file start",
			fileOffset: 4 << 20, fileLength: 10 << 20,
			off: -2 << 20, length: 1 << 20,
			wantStart: 4, wantEnd: 5, wantOK: true,
		},
		{
			name:       "sub-piece range still selects one full piece",
			fileOffset: 0, fileLength: 10 << 20,
			off: 100, length: 50,
			wantStart: 0, wantEnd: 1, wantOK: true,
		},
		{
			name:       "zero length",
			fileOffset: 0, fileLength: 10 << 20,
			off: 0, length: 0,
			wantOK: false,
		},
		{
			name:       "empty file",
			fileOffset: 0, fileLength: 0,
			off: 0, length: 1 << 20,
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			span, ok := pieceSpan(pieceLength, tc.fileOffset, tc.fileLength, tc.off, tc.length)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if span.start != tc.wantStart || span.end != tc.wantEnd {
				t.Fatalf("span = [%d, %d), want [%d, %d)", span.start, span.end, tc.wantStart, tc.wantEnd)
			}
		})
	}
}

func TestStateBlobRoundTrip(t *testing.T) {
	var id krpc.ID
	copy(id[:], "abcdefghij0123456789")

	original := stateBlob{
		Nodes: krpc.CompactIPv4NodeInfo{
			{ID: id, Addr: krpc.NodeAddr{IP: []byte{192, 168, 1, 10}, Port: 6881}},
			{ID: id, Addr: krpc.NodeAddr{IP: []byte{10, 0, 0, 2}, Port: 51413}},
		},
	}

	data, err := bencode.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded stateBlob
	if err := bencode.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded.Nodes) != len(original.Nodes) {
		t.Fatalf("decoded %d nodes, want %d", len(decoded.Nodes), len(original.Nodes))
	}
	for i, ni := range decoded.Nodes {
		want := original.Nodes[i]
		if ni.ID != want.ID {
			t.Errorf("node %d ID = %x, want %x", i, ni.ID, want.ID)
		}
		if !ni.Addr.IP.Equal(want.Addr.IP) || ni.Addr.Port != want.Addr.Port {
			t.Errorf("node %d addr = %v, want %v", i, ni.Addr, want.Addr)
		}
	}
}

func TestSeedStateRejectsGarbage(t *testing.T) {
	e := &Engine{client: nil}
	if err := e.SeedState([]byte("not bencode")); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}
