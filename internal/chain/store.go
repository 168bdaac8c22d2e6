package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock    = []byte("b/") // b/<hash(32)> -> block JSON, or location(12) if file-backed
	prefixHeight   = []byte("h/") // h/<height(8)> -> hash(32)
	prefixTx       = []byte("x/") // x/<txhash(32)> -> height(8) + blockHash(32)
	prefixUndo     = []byte("d/") // d/<hash(32)> -> undo JSON, or location(12) if file-backed
	prefixFileInfo = []byte("f/") // f/<fileindex(4)> -> max height seen in that file (8)

	keyTipHash         = []byte("s/tip")
	keyHeight          = []byte("s/height")
	keySupply          = []byte("s/supply")
	keyCumDifficulty   = []byte("s/cumdiff")
	keyReorgCheckpoint = []byte("s/reorg")
	keyPrunedFlag      = []byte("F/prunedblockfiles")
	keyPruneHorizon    = []byte("s/prunehorizon") // lowest height still guaranteed on disk
)

// locationSize is the fixed on-disk width of an encoded storage.Location:
// file(4) + offset(4) + size(4), all little-endian.
const locationSize = 12

// BlockStore persists blocks and chain metadata to a storage.DB. When a
// FileStore is attached (SetFileStore), block and undo payloads are written
// to the append-only blk?????.dat/rev?????.dat sequence and the
// KV index holds only their Location; without one, payloads are stored
// directly in the KV index as JSON, which is how every pre-existing test
// in this package exercises it.
type BlockStore struct {
	db    storage.DB
	files *storage.FileStore
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

// SetFileStore attaches a FileStore so subsequent block/undo writes go to
// the append-only file sequence instead of being embedded in the KV index.
// Must be called before any blocks are written under the new scheme; it is
// not retroactive for data already persisted in KV-embedded form.
func (bs *BlockStore) SetFileStore(fs *storage.FileStore) {
	bs.files = fs
}

// StoreBlock stores a block by its hash only, without updating height or tx
// indexes. Use this for blocks that are not (yet) on the active chain.
func (bs *BlockStore) StoreBlock(blk *block.Block) error {
	hash := blk.Hash()
	if _, err := bs.writeBlockPayload(hash, blk); err != nil {
		return err
	}
	return nil
}

// PutBlock stores a block and indexes it by hash, height, and tx hashes,
// returning the Location the payload landed at (zero value when the store
// is KV-embedded, i.e. no FileStore attached).
func (bs *BlockStore) PutBlock(blk *block.Block) (storage.Location, error) {
	hash := blk.Hash()
	loc, err := bs.writeBlockPayload(hash, blk)
	if err != nil {
		return storage.Location{}, err
	}

	if err := bs.db.Put(heightKey(blk.Header.Height), hash[:]); err != nil {
		return loc, fmt.Errorf("height index put: %w", err)
	}

	// Index each transaction by hash → (height, blockHash).
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, 8+types.HashSize)
		binary.BigEndian.PutUint64(val[:8], blk.Header.Height)
		copy(val[8:], hash[:])
		if err := bs.db.Put(txKey(txHash), val); err != nil {
			return loc, fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}

	return loc, nil
}

// writeBlockPayload writes blk's bytes either to the attached FileStore
// (recording its Location in the KV index under blockKey) or, with no
// FileStore attached, directly as JSON under blockKey.
func (bs *BlockStore) writeBlockPayload(hash types.Hash, blk *block.Block) (storage.Location, error) {
	data, err := json.Marshal(blk)
	if err != nil {
		return storage.Location{}, fmt.Errorf("block marshal: %w", err)
	}

	if bs.files == nil {
		if err := bs.db.Put(blockKey(hash), data); err != nil {
			return storage.Location{}, fmt.Errorf("block put: %w", err)
		}
		return storage.Location{}, nil
	}

	loc, err := bs.files.WriteBlock(data)
	if err != nil {
		return storage.Location{}, fmt.Errorf("write block file: %w", err)
	}
	if err := bs.db.Put(blockKey(hash), encodeLocation(loc)); err != nil {
		return storage.Location{}, fmt.Errorf("block location put: %w", err)
	}
	if err := bs.bumpFileHeight(loc.File, blk.Header.Height); err != nil {
		return storage.Location{}, fmt.Errorf("file height index: %w", err)
	}
	return loc, nil
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	raw, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}

	var data []byte
	if bs.files == nil {
		data = raw
	} else {
		loc, err := decodeLocation(raw)
		if err != nil {
			return nil, fmt.Errorf("block location decode: %w", err)
		}
		data, err = bs.files.ReadBlock(loc)
		if err != nil {
			return nil, fmt.Errorf("block read: %w", ErrPrunedBlock(loc.File, err))
		}
	}

	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// GetBlockByHeight retrieves a block by its height.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	hashBytes, err := bs.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("height index get: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return nil, fmt.Errorf("corrupt height index: got %d bytes, want %d", len(hashBytes), types.HashSize)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return bs.GetBlock(hash)
}

// HasBlock checks if a block exists by hash.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(blockKey(hash))
}

// SetTip stores the current chain tip hash, height, and supply.
func (bs *BlockStore) SetTip(hash types.Hash, height, supply uint64) error {
	if err := bs.db.Put(keyTipHash, hash[:]); err != nil {
		return fmt.Errorf("set tip hash: %w", err)
	}
	var heightBuf, supplyBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	if err := bs.db.Put(keyHeight, heightBuf[:]); err != nil {
		return fmt.Errorf("set tip height: %w", err)
	}
	binary.BigEndian.PutUint64(supplyBuf[:], supply)
	if err := bs.db.Put(keySupply, supplyBuf[:]); err != nil {
		return fmt.Errorf("set supply: %w", err)
	}
	return nil
}

// GetTip returns the current chain tip hash, height, and supply.
// Returns zero values if no tip is set (fresh chain).
func (bs *BlockStore) GetTip() (types.Hash, uint64, uint64, error) {
	hashBytes, err := bs.db.Get(keyTipHash)
	if err != nil {
		return types.Hash{}, 0, 0, nil // No tip yet.
	}
	if len(hashBytes) != types.HashSize {
		return types.Hash{}, 0, 0, fmt.Errorf("corrupt tip hash: got %d bytes", len(hashBytes))
	}

	heightBytes, err := bs.db.Get(keyHeight)
	if err != nil {
		return types.Hash{}, 0, 0, fmt.Errorf("tip height missing: %w", err)
	}
	if len(heightBytes) != 8 {
		return types.Hash{}, 0, 0, fmt.Errorf("corrupt tip height: got %d bytes", len(heightBytes))
	}

	var supply uint64
	supplyBytes, err := bs.db.Get(keySupply)
	if err == nil && len(supplyBytes) == 8 {
		supply = binary.BigEndian.Uint64(supplyBytes)
	}
	// Missing supply key is OK for backwards compat with old DBs.

	var hash types.Hash
	copy(hash[:], hashBytes)
	height := binary.BigEndian.Uint64(heightBytes)
	return hash, height, supply, nil
}

// GetTxLocation returns the block height and hash that contain the given transaction.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	data, err := bs.db.Get(txKey(txHash))
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != 8+types.HashSize {
		return 0, types.Hash{}, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(data), 8+types.HashSize)
	}
	height := binary.BigEndian.Uint64(data[:8])
	var blockHash types.Hash
	copy(blockHash[:], data[8:])
	return height, blockHash, nil
}

// DeleteHeightIndex removes the height→hash mapping for a disconnected
// height, for reorgs that move the tip backward without connecting a
// replacement block at that height.
func (bs *BlockStore) DeleteHeightIndex(height uint64) error {
	return bs.db.Delete(heightKey(height))
}

// DeleteTxIndex removes the transaction index entry for the given hash.
func (bs *BlockStore) DeleteTxIndex(txHash types.Hash) error {
	return bs.db.Delete(txKey(txHash))
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func txKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}

func undoKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixUndo)+types.HashSize)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], hash[:])
	return key
}

func fileInfoKey(file uint32) []byte {
	key := make([]byte, len(prefixFileInfo)+4)
	copy(key, prefixFileInfo)
	binary.BigEndian.PutUint32(key[len(prefixFileInfo):], file)
	return key
}

func encodeLocation(loc storage.Location) []byte {
	buf := make([]byte, locationSize)
	binary.LittleEndian.PutUint32(buf[0:4], loc.File)
	binary.LittleEndian.PutUint32(buf[4:8], loc.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], loc.Size)
	return buf
}

func decodeLocation(buf []byte) (storage.Location, error) {
	if len(buf) != locationSize {
		return storage.Location{}, fmt.Errorf("corrupt location: got %d bytes, want %d", len(buf), locationSize)
	}
	return storage.Location{
		File:   binary.LittleEndian.Uint32(buf[0:4]),
		Offset: binary.LittleEndian.Uint32(buf[4:8]),
		Size:   binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// bumpFileHeight records the highest block height written into file, used
// by PruneToHeight to decide which block/undo files are safe to unlink.
func (bs *BlockStore) bumpFileHeight(file uint32, height uint64) error {
	key := fileInfoKey(file)
	existing, err := bs.db.Get(key)
	if err == nil && len(existing) == 8 && binary.BigEndian.Uint64(existing) >= height {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return bs.db.Put(key, buf[:])
}

// PutUndo stores undo data for a block (used for reorgs). predecessor is
// the block's parent hash, folded into the on-disk checksum when
// file-backed (checksum = H(predecessor_hash || undo_bytes)).
func (bs *BlockStore) PutUndo(hash, predecessor types.Hash, data []byte) (storage.Location, error) {
	if bs.files == nil {
		if err := bs.db.Put(undoKey(hash), data); err != nil {
			return storage.Location{}, fmt.Errorf("put undo: %w", err)
		}
		return storage.Location{}, nil
	}

	loc, err := bs.files.WriteUndo(data, predecessor)
	if err != nil {
		return storage.Location{}, fmt.Errorf("write undo file: %w", err)
	}
	if err := bs.db.Put(undoKey(hash), encodeLocation(loc)); err != nil {
		return storage.Location{}, fmt.Errorf("undo location put: %w", err)
	}
	return loc, nil
}

// GetUndo retrieves undo data for a block, verifying its checksum against
// predecessor when file-backed.
func (bs *BlockStore) GetUndo(hash, predecessor types.Hash) ([]byte, error) {
	raw, err := bs.db.Get(undoKey(hash))
	if err != nil {
		return nil, fmt.Errorf("get undo: %w", err)
	}
	if bs.files == nil {
		return raw, nil
	}
	loc, err := decodeLocation(raw)
	if err != nil {
		return nil, fmt.Errorf("undo location decode: %w", err)
	}
	data, err := bs.files.ReadUndo(loc, predecessor)
	if err != nil {
		return nil, fmt.Errorf("undo read: %w", ErrPrunedBlock(loc.File, err))
	}
	return data, nil
}

// DeleteUndo removes the undo index entry for a block. When file-backed the
// underlying bytes remain in the append-only rev?????.dat file (reclaimed
// only by pruning); removing the KV pointer is enough to make it
// unreachable, matching the undo record's per-block lifetime.
func (bs *BlockStore) DeleteUndo(hash types.Hash) error {
	return bs.db.Delete(undoKey(hash))
}

// SetCumulativeDifficulty persists the cumulative difficulty.
func (bs *BlockStore) SetCumulativeDifficulty(cumDiff uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cumDiff)
	return bs.db.Put(keyCumDifficulty, buf[:])
}

// GetCumulativeDifficulty retrieves the cumulative difficulty (0 if unset).
func (bs *BlockStore) GetCumulativeDifficulty() uint64 {
	data, err := bs.db.Get(keyCumDifficulty)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// PutReorgCheckpoint writes a marker indicating a reorg is in progress.
// If the node crashes during reorg, this marker triggers UTXO recovery on restart.
func (bs *BlockStore) PutReorgCheckpoint(forkHeight uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], forkHeight)
	return bs.db.Put(keyReorgCheckpoint, buf[:])
}

// GetReorgCheckpoint returns the fork height and true if a reorg checkpoint exists.
func (bs *BlockStore) GetReorgCheckpoint() (uint64, bool) {
	data, err := bs.db.Get(keyReorgCheckpoint)
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// DeleteReorgCheckpoint removes the reorg-in-progress marker.
func (bs *BlockStore) DeleteReorgCheckpoint() error {
	return bs.db.Delete(keyReorgCheckpoint)
}

// CommitBlock persists a newly-connected block: its payload, height/tx
// indexes, undo record, tip pointer, and cumulative difficulty. The block
// and undo payloads (or, when file-backed, their Locations) are written
// first, as separate writes; file-backed block and undo bytes are fsynced
// to their files (see storage.FileStore) before that. With a
// Batcher-capable DB the height/tx indexes, tip, supply and cumulative
// difficulty then land in one batch, so a crash mid-commit never leaves
// height/tx indexes pointing past the persisted tip, and replay always
// finds payloads for every indexed block. Returns the block and undo
// Locations (zero values when KV-embedded).
func (bs *BlockStore) CommitBlock(blk *block.Block, undoBytes []byte, newSupply, newCumDiff uint64) (storage.Location, storage.Location, error) {
	hash := blk.Hash()

	blockLoc, err := bs.writeBlockPayload(hash, blk)
	if err != nil {
		return storage.Location{}, storage.Location{}, err
	}
	undoLoc, err := bs.writeUndoPayload(hash, blk.Header.PrevHash, undoBytes)
	if err != nil {
		return blockLoc, storage.Location{}, err
	}

	batcher, ok := bs.db.(storage.Batcher)
	if !ok {
		// No atomic batch support: fall back to sequential writes.
		if err := bs.indexBlockNonAtomic(blk, hash, newSupply, newCumDiff); err != nil {
			return blockLoc, undoLoc, err
		}
		return blockLoc, undoLoc, nil
	}

	batch := batcher.NewBatch()
	if err := bs.stageBlockIndex(batch, blk, hash, newSupply, newCumDiff); err != nil {
		return blockLoc, undoLoc, err
	}
	if err := batch.Commit(); err != nil {
		return blockLoc, undoLoc, fmt.Errorf("commit block batch: %w", err)
	}
	return blockLoc, undoLoc, nil
}

// writeUndoPayload is PutUndo's payload-writing half: for a KV-embedded
// store it stores data under hash directly (mirroring the original single-
// value PutUndo); for a file-backed store it appends to rev?????.dat and
// records the Location under the same key.
func (bs *BlockStore) writeUndoPayload(hash, predecessor types.Hash, data []byte) (storage.Location, error) {
	if bs.files == nil {
		if err := bs.db.Put(undoKey(hash), data); err != nil {
			return storage.Location{}, fmt.Errorf("put undo: %w", err)
		}
		return storage.Location{}, nil
	}
	loc, err := bs.files.WriteUndo(data, predecessor)
	if err != nil {
		return storage.Location{}, fmt.Errorf("write undo file: %w", err)
	}
	if err := bs.db.Put(undoKey(hash), encodeLocation(loc)); err != nil {
		return storage.Location{}, fmt.Errorf("undo location put: %w", err)
	}
	return loc, nil
}

func (bs *BlockStore) stageBlockIndex(batch storage.Batch, blk *block.Block, hash types.Hash, newSupply, newCumDiff uint64) error {
	// Block/undo payloads (and their file Locations, when file-backed) were
	// already written by writeBlockPayload/writeUndoPayload; only the
	// height/tx/tip/cumdiff indexes need to land in this atomic batch.
	if err := batch.Put(heightKey(blk.Header.Height), hash[:]); err != nil {
		return err
	}
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, 8+types.HashSize)
		binary.BigEndian.PutUint64(val[:8], blk.Header.Height)
		copy(val[8:], hash[:])
		if err := batch.Put(txKey(txHash), val); err != nil {
			return err
		}
	}
	var supplyBuf, heightBuf, cumBuf [8]byte
	binary.BigEndian.PutUint64(supplyBuf[:], newSupply)
	binary.BigEndian.PutUint64(heightBuf[:], blk.Header.Height)
	binary.BigEndian.PutUint64(cumBuf[:], newCumDiff)
	if err := batch.Put(keyTipHash, hash[:]); err != nil {
		return err
	}
	if err := batch.Put(keyHeight, heightBuf[:]); err != nil {
		return err
	}
	if err := batch.Put(keySupply, supplyBuf[:]); err != nil {
		return err
	}
	return batch.Put(keyCumDifficulty, cumBuf[:])
}

func (bs *BlockStore) indexBlockNonAtomic(blk *block.Block, hash types.Hash, newSupply, newCumDiff uint64) error {
	// Block/undo payloads were already written by writeBlockPayload/
	// writeUndoPayload; only the height/tx indexes and tip state remain.
	if err := bs.db.Put(heightKey(blk.Header.Height), hash[:]); err != nil {
		return err
	}
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, 8+types.HashSize)
		binary.BigEndian.PutUint64(val[:8], blk.Header.Height)
		copy(val[8:], hash[:])
		if err := bs.db.Put(txKey(txHash), val); err != nil {
			return err
		}
	}
	if err := bs.SetTip(hash, blk.Header.Height, newSupply); err != nil {
		return err
	}
	return bs.SetCumulativeDifficulty(newCumDiff)
}

// PruneToHeight deletes block and undo files whose maximum recorded height
// is more than minBlocksToKeep below targetHeight, sets the prunedblockfiles
// flag, and raises the prune horizon so reads below it fail cleanly instead
// of silently returning truncated data. Requires a FileStore; a KV-embedded
// store (no FileStore attached) has nothing file-shaped to prune.
func (bs *BlockStore) PruneToHeight(targetHeight, minBlocksToKeep uint64) ([]uint32, error) {
	if bs.files == nil {
		return nil, fmt.Errorf("prune: no file store attached")
	}
	if targetHeight <= minBlocksToKeep {
		return nil, nil
	}
	horizon := targetHeight - minBlocksToKeep

	var pruned []uint32
	err := bs.db.ForEach(prefixFileInfo, func(key, value []byte) error {
		if len(key) != len(prefixFileInfo)+4 || len(value) != 8 {
			return nil
		}
		file := binary.BigEndian.Uint32(key[len(prefixFileInfo):])
		maxHeight := binary.BigEndian.Uint64(value)
		if maxHeight >= horizon || file == bs.files.CurrentFileIndex() {
			return nil // still within the retention window, or the active file
		}
		pruned = append(pruned, file)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prune scan: %w", err)
	}

	for _, file := range pruned {
		if err := bs.files.DeleteFiles(file); err != nil {
			return pruned, fmt.Errorf("prune delete file %d: %w", file, err)
		}
		if err := bs.db.Delete(fileInfoKey(file)); err != nil {
			return pruned, fmt.Errorf("prune clear file info %d: %w", file, err)
		}
	}

	if len(pruned) > 0 {
		if err := bs.db.Put(keyPrunedFlag, []byte{1}); err != nil {
			return pruned, fmt.Errorf("set prunedblockfiles flag: %w", err)
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], horizon)
		if err := bs.db.Put(keyPruneHorizon, buf[:]); err != nil {
			return pruned, fmt.Errorf("set prune horizon: %w", err)
		}
	}
	return pruned, nil
}

// BlockFilesSize reports the total on-disk bytes of the block/undo file
// sequence, or 0 when no FileStore is attached (KV-embedded storage).
func (bs *BlockStore) BlockFilesSize() (int64, error) {
	if bs.files == nil {
		return 0, nil
	}
	return bs.files.TotalSize()
}

// IsPruned reports whether block/undo files have ever been pruned, and the
// lowest height still guaranteed to be readable.
func (bs *BlockStore) IsPruned() (bool, uint64) {
	flag, err := bs.db.Get(keyPrunedFlag)
	if err != nil || len(flag) == 0 || flag[0] == 0 {
		return false, 0
	}
	data, err := bs.db.Get(keyPruneHorizon)
	if err != nil || len(data) != 8 {
		return true, 0
	}
	return true, binary.BigEndian.Uint64(data)
}

// ErrPrunedBlock wraps a file-read failure with a clearly-coded message
// when the failure is consistent with that file having been pruned, so
// callers can distinguish "pruned" from genuine corruption.
func ErrPrunedBlock(file uint32, cause error) error {
	return fmt.Errorf("block data for file %d unavailable (pruned or missing): %w", file, cause)
}
