package plugin

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	Qt "github.com/maroda/iqscope/types"
)

type BadgerOutput struct {
	MU        sync.Mutex
	DB        *badger.DB
	BatchSize int
	Buffer    []*Qt.FrameRecord
}

func NewBadgerOutput(path string, batchSize int) (*BadgerOutput, error) {
	opts := badger.DefaultOptions(path).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("BadgerOutput failed to open database", slog.Any("error", err))
		return nil, fmt.Errorf("database error: %w", err)
	}

	slog.Info("BadgerOutput opened",
		slog.String("path", path),
		slog.Int("batchSize", batchSize))

	return &BadgerOutput{
		DB:        db,
		BatchSize: batchSize,
		Buffer:    make([]*Qt.FrameRecord, 0, batchSize),
	}, nil
}

// WriteFrame queues up a batch of frames,
// when batchsize is reached the batch is written
func (bo *BadgerOutput) WriteFrame(rec *Qt.FrameRecord) error {
	bo.MU.Lock()
	defer bo.MU.Unlock()

	bo.Buffer = append(bo.Buffer, rec)
	if len(bo.Buffer) >= bo.BatchSize {
		return bo.flushLocked()
	}
	return nil
}

// WriteBatch performs the key/value creation to be stored
// and actually calls BadgerDB to write the data
func (bo *BadgerOutput) WriteBatch(recs []*Qt.FrameRecord) error {
	wb := bo.DB.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range recs {
		v, err := FrameEncode(r)
		if err != nil {
			return fmt.Errorf("frame encode error: %w", err)
		}
		if err := wb.Set(FrameKey(r), v); err != nil {
			slog.Error("BadgerOutput failed to set key in batch",
				slog.Any("error", err),
				slog.Time("frameTime", r.Timestamp),
				slog.Uint64("sequence", r.Sequence))
			return fmt.Errorf("write batch error: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		slog.Error("BadgerOutput failed to flush batch", slog.Any("error", err))
		return fmt.Errorf("batch flush error: %w", err)
	}

	return nil
}

// Flush writes whatever is buffered
func (bo *BadgerOutput) Flush() error {
	bo.MU.Lock()
	defer bo.MU.Unlock()

	if len(bo.Buffer) == 0 {
		return nil
	}
	return bo.flushLocked()
}

// flushLocked mimics Flush without locking, called by WriteFrame
func (bo *BadgerOutput) flushLocked() error {
	err := bo.WriteBatch(bo.Buffer)
	clear(bo.Buffer)
	bo.Buffer = bo.Buffer[:0] // Clear but keep capacity
	return err
}

// Close returns a Flush error but still attempts to close
func (bo *BadgerOutput) Close() error {
	slog.Info("BadgerOutput closing, flushing buffer",
		slog.Int("bufferSize", len(bo.Buffer)))
	flushErr := bo.Flush()
	closeErr := bo.DB.Close()

	if flushErr != nil {
		slog.Error("BadgerOutput failed to flush on close", slog.Any("error", flushErr))
		return fmt.Errorf("flush failed, close may have failed: %w", flushErr)
	}

	if closeErr != nil {
		slog.Error("BadgerOutput failed to close database", slog.Any("error", closeErr))
		return fmt.Errorf("close failed: %w", closeErr)
	}

	slog.Info("BadgerOutput closed successfully")
	return nil
}

func (bo *BadgerOutput) Type() string { return "BadgerDB" }

// FrameKey is the timestamp followed by the sequence number,
// both BigEndian so BadgerDB keeps frames in time order
func FrameKey(rec *Qt.FrameRecord) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(rec.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], rec.Sequence)
	return key
}

// FrameEncode serializes the frame for storage
func FrameEncode(rec *Qt.FrameRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FrameDecode deserializes stored frame data
func FrameDecode(data []byte) (*Qt.FrameRecord, error) {
	var rec Qt.FrameRecord
	err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&rec)
	return &rec, err
}

// QueryRange retrieves frames with start <= timestamp < end, oldest first
func (bo *BadgerOutput) QueryRange(start, end time.Time) ([]*Qt.FrameRecord, error) {
	var recs []*Qt.FrameRecord

	seek := make([]byte, 8)
	binary.BigEndian.PutUint64(seek, uint64(start.UnixNano()))
	stop := uint64(end.UnixNano())

	// db.View() callback
	// BadgerDB provides a transaction in which to get item.Value()
	err := bo.DB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(seek); it.Valid(); it.Next() {
			item := it.Item()
			if binary.BigEndian.Uint64(item.Key()[0:8]) >= stop {
				break
			}

			err := item.Value(func(val []byte) error {
				rec, err := FrameDecode(val)
				if err != nil {
					slog.Error("BadgerOutput failed to decode frame", slog.Any("error", err))
					return fmt.Errorf("frame decode error: %w", err)
				}
				recs = append(recs, rec)
				return nil
			})
			if err != nil {
				slog.Error("BadgerOutput callback failure", slog.Any("error", err))
				return fmt.Errorf("item data error: %w", err)
			}
		}
		return nil
	})

	slog.Debug("BadgerOutput QueryRange", slog.Int("count", len(recs)))

	return recs, err
}
