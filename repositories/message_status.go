package repositories

import (
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/encoding/protowire"
)

type MessageStatus int

const (
	StatusUnknown MessageStatus = iota
	StatusSent
	StatusDelivered
	StatusRead
)

func (s MessageStatus) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// StatusRecord is the read state of one message as stored on disk.
type StatusRecord struct {
	MessageID string
	Status    MessageStatus
	UpdatedAt time.Time
}

type BadgerMessageStatusRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadgerMessageStatusRepository(db *badger.DB, log *slog.Logger) BadgerMessageStatusRepository {
	return BadgerMessageStatusRepository{db: db, log: log}
}

// MarkAsRead flags every message of the batch as read inside a single transaction.
// Keys are formatted as "msgstatus:{message_id}". Unknown ids are created with the read status.
func (r BadgerMessageStatusRepository) MarkAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := r.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Set(statusKey(id), encodeStatus(StatusRead, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrStoreUnavailable, err)
	}
	r.log.Debug("Messages marked as read", "count", len(ids))
	return nil
}

// SetStatus overwrites the status of a message. The relay itself only writes
// through MarkAsRead; SetStatus serves seeding and tooling.
func (r BadgerMessageStatusRepository) SetStatus(id string, status MessageStatus) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(statusKey(id), encodeStatus(status, time.Now().UTC()))
	})
}

// GetStatus returns the stored record, or badger.ErrKeyNotFound when the message is unknown.
// It is a read helper for tooling and tests; relay paths never read statuses.
func (r BadgerMessageStatusRepository) GetStatus(id string) (StatusRecord, error) {
	record := StatusRecord{MessageID: id}
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(statusKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			status, at, err := decodeStatus(val)
			if err != nil {
				return err
			}
			record.Status = status
			record.UpdatedAt = at
			return nil
		})
	})
	if err != nil {
		return StatusRecord{}, err
	}
	return record, nil
}

// ListStatuses scans the records whose message id starts with idPrefix, in key order.
// A limit of zero means no limit.
func (r BadgerMessageStatusRepository) ListStatuses(idPrefix string, limit int) ([]StatusRecord, error) {
	var records []StatusRecord
	prefix := statusKey(idPrefix)
	keyPrefixLen := len(statusKey(""))
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) == limit {
				r.log.Debug(fmt.Sprintf("Maximum of %d status reached", limit))
				break
			}
			item := it.Item()
			record := StatusRecord{MessageID: string(item.Key()[keyPrefixLen:])}
			err := item.Value(func(val []byte) error {
				status, at, err := decodeStatus(val)
				record.Status = status
				record.UpdatedAt = at
				return err
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

func statusKey(id string) []byte {
	return []byte("msgstatus:" + id)
}

// Field 1 holds the status, field 2 the update time in unix nanoseconds.
func encodeStatus(status MessageStatus, at time.Time) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(status))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(at.UnixNano()))
	return b
}

func decodeStatus(b []byte) (MessageStatus, time.Time, error) {
	var status MessageStatus
	var at time.Time
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, time.Time{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, time.Time{}, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, time.Time{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			status = MessageStatus(v)
		case 2:
			at = time.Unix(0, int64(v)).UTC()
		}
	}
	return status, at, nil
}
