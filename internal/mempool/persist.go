package mempool

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// dumpFileVersion guards the on-disk format of Dump/Load so a future format
// change can refuse to load an incompatible file instead of misparsing it.
const dumpFileVersion = 1

// dumpFile is the JSON structure persisted by Dump and read back by Load,
// mirroring the chain controller's dump_mempool/load_mempool control
// surface operations.
type dumpFile struct {
	Version      int                `json:"version"`
	SavedAtUnix  int64              `json:"saved_at_unix"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// Dump snapshots every transaction currently held to path as JSON, so a
// restarting node can reload its mempool instead of starting empty.
func (p *Pool) Dump(path string) error {
	df := dumpFile{
		Version:      dumpFileVersion,
		SavedAtUnix:  time.Now().Unix(),
		Transactions: p.AllTransactions(),
	}
	data, err := json.Marshal(df)
	if err != nil {
		return fmt.Errorf("marshal mempool dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write mempool dump %s: %w", path, err)
	}
	return nil
}

// Load reads a Dump snapshot from path and re-admits every transaction in
// it via TryAccept, the same validation path a freshly received transaction
// goes through. It returns the number of transactions successfully
// re-admitted; entries that no longer validate (e.g. their inputs were
// spent by blocks mined while the node was down) are silently skipped, as
// the original mempool contents have no special authority over current
// chain state. A missing file is not an error — there is simply nothing to
// load.
func (p *Pool) Load(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read mempool dump %s: %w", path, err)
	}

	var df dumpFile
	if err := json.Unmarshal(data, &df); err != nil {
		return 0, fmt.Errorf("unmarshal mempool dump %s: %w", path, err)
	}
	if df.Version != dumpFileVersion {
		return 0, fmt.Errorf("mempool dump %s: unsupported version %d", path, df.Version)
	}

	admitted := 0
	for _, transaction := range df.Transactions {
		if _, err := p.TryAccept(transaction, false, false); err != nil {
			continue
		}
		admitted++
	}
	return admitted, nil
}
