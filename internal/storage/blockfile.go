package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Block and undo files are append-only, rotated once they exceed
// maxFileSize, and named blk00000.dat/rev00000.dat, blk00001.dat/..., so
// a block's undo record always lives in the file with the same index as
// its block.
const (
	blockMagic   = uint32(0x4b4c4e42) // "KLNB"
	undoMagic    = uint32(0x4b4c4e52) // "KLNR"
	frameHeader  = 8                  // magic(4) + size(4 LE)
	undoTrailer  = types.HashSize     // checksum appended after undo_bytes
	defaultMaxFS = 128 << 20          // 128 MiB
)

// Location points at a framed record within a block or undo file.
type Location struct {
	File   uint32
	Offset uint32 // offset of the frame header, not the payload
	Size   uint32 // payload size, excluding framing
}

// FileStore manages the append-only blk?????.dat / rev?????.dat sequence.
// It holds no index of its own; callers (BlockStore) persist Location
// values in the KV index so writes here never need to be read back to
// find where something landed.
type FileStore struct {
	mu          sync.Mutex
	dir         string
	maxFileSize int64

	curIndex    uint32
	blockFile   *os.File
	undoFile    *os.File
	blockOffset int64
	undoOffset  int64
}

// NewFileStore opens (creating if necessary) the block/undo file pair at
// the given directory, starting a new file sequence at startIndex.
func NewFileStore(dir string, startIndex uint32, maxFileSize int64) (*FileStore, error) {
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFS
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore mkdir: %w", err)
	}
	fs := &FileStore{dir: dir, maxFileSize: maxFileSize, curIndex: startIndex}
	if err := fs.openFiles(startIndex); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) openFiles(index uint32) error {
	blkPath := filepath.Join(fs.dir, fmt.Sprintf("blk%05d.dat", index))
	revPath := filepath.Join(fs.dir, fmt.Sprintf("rev%05d.dat", index))

	bf, err := os.OpenFile(blkPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open block file %s: %w", blkPath, err)
	}
	rf, err := os.OpenFile(revPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		bf.Close()
		return fmt.Errorf("open undo file %s: %w", revPath, err)
	}

	bInfo, err := bf.Stat()
	if err != nil {
		bf.Close()
		rf.Close()
		return err
	}
	rInfo, err := rf.Stat()
	if err != nil {
		bf.Close()
		rf.Close()
		return err
	}

	if fs.blockFile != nil {
		fs.blockFile.Close()
	}
	if fs.undoFile != nil {
		fs.undoFile.Close()
	}

	if index > 0 && fs.blockFile != nil {
		log.Storage.Debug().Uint32("file", index).Msg("Rotating block files")
	}

	fs.curIndex = index
	fs.blockFile = bf
	fs.undoFile = rf
	fs.blockOffset = bInfo.Size()
	fs.undoOffset = rInfo.Size()
	return nil
}

// WriteBlock appends magic|size(4 LE)|data to the current block file,
// rotating to a new file first if the write would exceed maxFileSize.
func (fs *FileStore) WriteBlock(data []byte) (Location, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	frameLen := int64(frameHeader + len(data))
	if fs.blockOffset+frameLen > fs.maxFileSize && fs.blockOffset > 0 {
		if err := fs.openFiles(fs.curIndex + 1); err != nil {
			return Location{}, err
		}
	}

	loc := Location{File: fs.curIndex, Offset: uint32(fs.blockOffset), Size: uint32(len(data))}
	frame := make([]byte, frameHeader+len(data))
	binary.LittleEndian.PutUint32(frame[0:4], blockMagic)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(data)))
	copy(frame[8:], data)

	n, err := fs.blockFile.Write(frame)
	if err != nil {
		return Location{}, fmt.Errorf("write block: %w", err)
	}
	if err := fs.blockFile.Sync(); err != nil {
		return Location{}, fmt.Errorf("fsync block file: %w", err)
	}
	fs.blockOffset += int64(n)
	return loc, nil
}

// ReadBlock reads back the payload written at loc, verifying the magic
// and length framing.
func (fs *FileStore) ReadBlock(loc Location) ([]byte, error) {
	path := filepath.Join(fs.dir, fmt.Sprintf("blk%05d.dat", loc.File))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open block file %s: %w", path, err)
	}
	defer f.Close()
	return readFrame(f, int64(loc.Offset), blockMagic, loc.Size)
}

// WriteUndo appends magic|size(4 LE)|undo_bytes|checksum(32) to the
// current undo file. checksum = blake3(predecessor_hash || undo_bytes).
func (fs *FileStore) WriteUndo(data []byte, predecessor types.Hash) (Location, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	checksum := computeUndoChecksum(predecessor, data)
	frameLen := int64(frameHeader + len(data) + undoTrailer)
	if fs.undoOffset+frameLen > fs.maxFileSize && fs.undoOffset > 0 {
		if err := fs.openFiles(fs.curIndex + 1); err != nil {
			return Location{}, err
		}
	}

	loc := Location{File: fs.curIndex, Offset: uint32(fs.undoOffset), Size: uint32(len(data))}
	frame := make([]byte, frameHeader+len(data)+undoTrailer)
	binary.LittleEndian.PutUint32(frame[0:4], undoMagic)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(data)))
	copy(frame[8:8+len(data)], data)
	copy(frame[8+len(data):], checksum[:])

	n, err := fs.undoFile.Write(frame)
	if err != nil {
		return Location{}, fmt.Errorf("write undo: %w", err)
	}
	if err := fs.undoFile.Sync(); err != nil {
		return Location{}, fmt.Errorf("fsync undo file: %w", err)
	}
	fs.undoOffset += int64(n)
	return loc, nil
}

// ReadUndo reads back the undo payload at loc and verifies its checksum
// against predecessor.
func (fs *FileStore) ReadUndo(loc Location, predecessor types.Hash) ([]byte, error) {
	path := filepath.Join(fs.dir, fmt.Sprintf("rev%05d.dat", loc.File))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open undo file %s: %w", path, err)
	}
	defer f.Close()

	payload, err := readFrame(f, int64(loc.Offset), undoMagic, loc.Size)
	if err != nil {
		return nil, err
	}

	trailer := make([]byte, undoTrailer)
	if _, err := f.ReadAt(trailer, int64(loc.Offset)+frameHeader+int64(loc.Size)); err != nil {
		return nil, fmt.Errorf("read undo checksum: %w", err)
	}
	want := computeUndoChecksum(predecessor, payload)
	if string(trailer) != string(want[:]) {
		return nil, fmt.Errorf("undo checksum mismatch at file %d offset %d", loc.File, loc.Offset)
	}
	return payload, nil
}

func readFrame(f *os.File, offset int64, wantMagic uint32, size uint32) ([]byte, error) {
	header := make([]byte, frameHeader)
	if _, err := f.ReadAt(header, offset); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != wantMagic {
		return nil, fmt.Errorf("bad frame magic at offset %d: got %x want %x", offset, magic, wantMagic)
	}
	length := binary.LittleEndian.Uint32(header[4:8])
	if length != size {
		return nil, fmt.Errorf("frame length mismatch at offset %d: got %d want %d", offset, length, size)
	}
	payload := make([]byte, length)
	if _, err := f.ReadAt(payload, offset+frameHeader); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

func computeUndoChecksum(predecessor types.Hash, undo []byte) types.Hash {
	buf := make([]byte, 0, types.HashSize+len(undo))
	buf = append(buf, predecessor[:]...)
	buf = append(buf, undo...)
	return crypto.Hash(buf)
}

// Close closes both underlying files.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var errs []error
	if err := fs.blockFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := fs.undoFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("filestore close: %v", errs)
	}
	return nil
}

// TotalSize sums the on-disk bytes of every blk/rev file still present,
// for the prune loop's byte-budget check.
func (fs *FileStore) TotalSize() (int64, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return 0, fmt.Errorf("filestore size: %w", err)
	}
	var total int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".dat") ||
			(!strings.HasPrefix(name, "blk") && !strings.HasPrefix(name, "rev")) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// CurrentFileIndex returns the file index currently being written.
func (fs *FileStore) CurrentFileIndex() uint32 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.curIndex
}

// DeleteFiles unlinks the blk?????.dat/rev?????.dat pair at the given
// index. It refuses to delete the file currently being appended to, since
// that would corrupt in-flight writes. Used by pruning; a
// missing file is not an error (a previous prune attempt may have already
// removed it).
func (fs *FileStore) DeleteFiles(index uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if index == fs.curIndex {
		return fmt.Errorf("filestore: refusing to delete active file %d", index)
	}
	blkPath := filepath.Join(fs.dir, fmt.Sprintf("blk%05d.dat", index))
	revPath := filepath.Join(fs.dir, fmt.Sprintf("rev%05d.dat", index))
	if err := os.Remove(blkPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", blkPath, err)
	}
	if err := os.Remove(revPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", revPath, err)
	}
	return nil
}
