package docstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

type staged struct {
	data   []byte
	exists bool
}

// Tx is one attempt of a read-modify-write transaction. Reads record the
// version they observed; Commit fails if any of them changed since.
type Tx struct {
	ctx     context.Context
	backend Backend

	reads  map[string]Snapshot
	state  map[string]staged
	writes []Write
	index  map[string]int
}

func newTx(ctx context.Context, b Backend) *Tx {
	return &Tx{
		ctx:     ctx,
		backend: b,
		reads:   make(map[string]Snapshot),
		state:   make(map[string]staged),
		index:   make(map[string]int),
	}
}

// Get reads a document. All Gets must happen before the first write.
// A missing document is returned together with ErrNotFound.
func (tx *Tx) Get(path string) (Snapshot, error) {
	if len(tx.writes) > 0 {
		return Snapshot{}, ErrReadAfterWrite
	}
	snap, err := tx.read(path)
	if err != nil {
		return Snapshot{}, err
	}
	if !snap.Exists {
		return snap, errors.Wrap(ErrNotFound, path)
	}
	return snap, nil
}

func (tx *Tx) read(path string) (Snapshot, error) {
	if snap, ok := tx.reads[path]; ok {
		return snap, nil
	}
	snap, err := tx.backend.Read(tx.ctx, path)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "read %s", path)
	}
	tx.reads[path] = snap
	return snap, nil
}

// current is the document as the transaction sees it, staged writes included.
func (tx *Tx) current(path string) (staged, error) {
	if st, ok := tx.state[path]; ok {
		return st, nil
	}
	snap, err := tx.read(path)
	if err != nil {
		return staged{}, err
	}
	return staged{data: snap.Data, exists: snap.Exists}, nil
}

// Set replaces (or creates) a document.
func (tx *Tx) Set(path string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	tx.stage(Write{Op: OpSet, Path: path, Data: data})
	return nil
}

// Update merges dotted field paths into an existing document.
func (tx *Tx) Update(path string, fields map[string]any) error {
	cur, err := tx.current(path)
	if err != nil {
		return err
	}
	if !cur.exists {
		return errors.Wrap(ErrNotFound, path)
	}
	data, err := mergeFields(cur.data, fields)
	if err != nil {
		return errors.Wrapf(err, "update %s", path)
	}
	tx.stage(Write{Op: OpSet, Path: path, Data: data})
	return nil
}

// Delete removes a document if it exists.
func (tx *Tx) Delete(path string) error {
	cur, err := tx.current(path)
	if err != nil {
		return err
	}
	if !cur.exists {
		return nil
	}
	tx.stage(Write{Op: OpDelete, Path: path})
	return nil
}

func (tx *Tx) stage(w Write) {
	tx.state[w.Path] = staged{data: w.Data, exists: w.Op == OpSet}
	if i, ok := tx.index[w.Path]; ok {
		tx.writes[i] = w
		return
	}
	tx.index[w.Path] = len(tx.writes)
	tx.writes = append(tx.writes, w)
}

func (tx *Tx) readVersions() map[string]int64 {
	out := make(map[string]int64, len(tx.reads))
	for path, snap := range tx.reads {
		out[path] = snap.Version
	}
	return out
}
