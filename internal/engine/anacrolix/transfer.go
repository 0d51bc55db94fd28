package anacrolix

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/types"

	"github.com/edu292/stremtui/internal/domain"
)

const (
	// focusWindowBytes is the span of data ahead of the playback position
	// that each FocusWindow call promotes.
	focusWindowBytes = 64 << 20
	// urgentWindowBytes is the leading slice of the focus window requested at
	// the highest priority. Pieces past it drop to readahead priority.
	urgentWindowBytes = 8 << 20
	// tailProbeBytes covers the end of the file at startup. Media containers
	// keep their seek index there and players stat it before playing.
	tailProbeBytes = 4 << 20
)

// Transfer is one registered torrent. All methods are safe to call before
// metadata has resolved; they degrade to no-ops or zero values until then.
type Transfer struct {
	engine  *Engine
	torrent *torrent.Torrent
	id      string
	dataDir string

	dropOnce sync.Once
}

func (t *Transfer) ID() string { return t.id }

func (t *Transfer) MetadataReady() bool {
	if t.torrent == nil {
		return false
	}
	select {
	case <-t.torrent.GotInfo():
		return true
	default:
		return false
	}
}

func (t *Transfer) Peers() int {
	if t.torrent == nil {
		return 0
	}
	return t.torrent.Stats().ActivePeers
}

func (t *Transfer) Files() (mapped []domain.FileRef) {
	if !t.MetadataReady() {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			t.engine.logger.Error("file mapping panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.torrent.Files()
	mapped = make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return mapped
}

func (t *Transfer) FilePath(index int) (string, error) {
	f, err := t.file(index)
	if err != nil {
		return "", err
	}
	return filepath.Join(t.dataDir, f.Path()), nil
}

func (t *Transfer) Prioritize(index int) error {
	if !t.MetadataReady() {
		return fmt.Errorf("%w: metadata not resolved", domain.ErrEngineFailure)
	}
	files := t.torrent.Files()
	if index < 0 || index >= len(files) {
		return fmt.Errorf("%w: file index %d out of range", domain.ErrFileNotFound, index)
	}
	for i, f := range files {
		if i == index {
			f.SetPriority(torrent.PiecePriorityNormal)
		} else {
			f.SetPriority(torrent.PiecePriorityNone)
		}
	}
	return nil
}

// StartRetrieval lifts the registration-time transfer suppression and
// front-loads the selected file: the head gets the urgent gradient playback
// start depends on, the tail probe covers the container's seek index.
func (t *Transfer) StartRetrieval(index int) {
	if t.torrent == nil {
		return
	}
	t.torrent.AllowDataDownload()
	t.torrent.AllowDataUpload()

	f, err := t.file(index)
	if err != nil {
		return
	}
	pieceLength := int64(t.torrent.Info().PieceLength)

	if span, ok := pieceSpan(pieceLength, f.Offset(), f.Length(), 0, urgentWindowBytes); ok {
		t.setSpanPriority(span, torrent.PiecePriorityNow)
	}
	if span, ok := pieceSpan(pieceLength, f.Offset(), f.Length(), urgentWindowBytes, focusWindowBytes-urgentWindowBytes); ok {
		t.setSpanPriority(span, torrent.PiecePriorityReadahead)
	}
	if span, ok := pieceSpan(pieceLength, f.Offset(), f.Length(), f.Length()-tailProbeBytes, tailProbeBytes); ok {
		t.setSpanPriority(span, torrent.PiecePriorityNext)
	}
}

// FocusWindow slides the retrieval window to the given file offset. Pieces
// behind the offset keep whatever state they have; pieces directly ahead are
// promoted so sequential playback never starves.
func (t *Transfer) FocusWindow(index int, offset int64) {
	f, err := t.file(index)
	if err != nil {
		return
	}
	pieceLength := int64(t.torrent.Info().PieceLength)

	if span, ok := pieceSpan(pieceLength, f.Offset(), f.Length(), offset, urgentWindowBytes); ok {
		t.setSpanPriority(span, torrent.PiecePriorityNow)
	}
	if span, ok := pieceSpan(pieceLength, f.Offset(), f.Length(), offset+urgentWindowBytes, focusWindowBytes-urgentWindowBytes); ok {
		t.setSpanPriority(span, torrent.PiecePriorityReadahead)
	}
}

// BufferedBytes reports how much of the file is complete in an unbroken run
// from its first byte. Total completed bytes would overstate readiness here:
// the tail probe finishes early, and playback can only consume what is
// contiguous from the head.
func (t *Transfer) BufferedBytes(index int) int64 {
	f, err := t.file(index)
	if err != nil {
		return 0
	}
	pieceLength := int64(t.torrent.Info().PieceLength)
	numPieces := t.torrent.NumPieces()
	return contiguousHead(pieceLength, f.Offset(), f.Length(), func(piece int) bool {
		if piece < 0 || piece >= numPieces {
			return false
		}
		return t.torrent.Piece(piece).State().Complete
	})
}

func (t *Transfer) Drop() {
	t.dropOnce.Do(func() {
		if t.torrent != nil {
			t.torrent.Drop()
		}
		t.engine.forget(t.id)
	})
}

func (t *Transfer) file(index int) (*torrent.File, error) {
	if !t.MetadataReady() {
		return nil, fmt.Errorf("%w: metadata not resolved", domain.ErrEngineFailure)
	}
	files := t.torrent.Files()
	if index < 0 || index >= len(files) {
		return nil, fmt.Errorf("%w: file index %d out of range", domain.ErrFileNotFound, index)
	}
	return files[index], nil
}

func (t *Transfer) setSpanPriority(span pieceRange, prio types.PiecePriority) {
	defer func() {
		if r := recover(); r != nil {
			t.engine.logger.Warn("piece priority panic recovered",
				slog.Any("panic", r),
				slog.String("infoHash", t.id),
			)
		}
	}()
	if n := t.torrent.NumPieces(); span.end > n {
		span.end = n
	}
	for i := span.start; i < span.end; i++ {
		t.torrent.Piece(i).SetPriority(prio)
	}
}

type pieceRange struct {
	start int
	end   int
}

// contiguousHead walks pieces from the file's first byte and sums each
// complete piece's overlap with the file, stopping at the first incomplete
// piece.
func contiguousHead(pieceLength, fileOffset, fileLength int64, pieceComplete func(int) bool) int64 {
	if pieceLength <= 0 || fileLength <= 0 {
		return 0
	}
	fileEnd := fileOffset + fileLength
	var buffered int64
	for piece := int(fileOffset / pieceLength); ; piece++ {
		pieceStart := int64(piece) * pieceLength
		if pieceStart >= fileEnd {
			return fileLength
		}
		if !pieceComplete(piece) {
			return buffered
		}
		start := pieceStart
		if start < fileOffset {
			start = fileOffset
		}
		end := pieceStart + pieceLength
		if end > fileEnd {
			end = fileEnd
		}
		buffered += end - start
	}
}

// pieceSpan maps a byte range within a file onto the torrent's piece index
// space. The range is clamped to the file's bounds; a range that falls
// entirely outside the file yields ok=false.
func pieceSpan(pieceLength, fileOffset, fileLength, off, length int64) (pieceRange, bool) {
	if pieceLength <= 0 || fileLength <= 0 || length <= 0 {
		return pieceRange{}, false
	}
	start := fileOffset + off
	if start < fileOffset {
		start = fileOffset
	}
	fileEnd := fileOffset + fileLength
	if start >= fileEnd {
		return pieceRange{}, false
	}
	end := start + length
	if end > fileEnd || end < start {
		end = fileEnd
	}

	startPiece := int(start / pieceLength)
	endPiece := int((end + pieceLength - 1) / pieceLength)
	if endPiece <= startPiece {
		endPiece = startPiece + 1
	}
	return pieceRange{start: startPiece, end: endPiece}, true
}
