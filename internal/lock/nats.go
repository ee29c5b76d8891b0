package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultNATSBucket is the key-value bucket used when none is configured.
const DefaultNATSBucket = "foreman_locks"

// natsRecord is the stored form of a lock. JetStream KV has no per-key
// expiry, so the deadline travels with the value.
type natsRecord struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expiresAt"` // unix milliseconds
}

func (r natsRecord) live(now time.Time) bool {
	return now.UnixMilli() < r.ExpiresAt
}

// NATSBackend stores locks in a JetStream key-value bucket. Every write is
// conditioned on the revision read just before it, which makes each
// primitive atomic against concurrent writers.
type NATSBackend struct {
	kv     jetstream.KeyValue
	conn   *nats.Conn
	ownNC  bool
	now    func() time.Time
	bucket string
}

// NewNATSBackend creates (or binds to) the bucket on an existing connection.
// Close does not close the connection.
func NewNATSBackend(ctx context.Context, nc *nats.Conn, bucket string) (*NATSBackend, error) {
	if bucket == "" {
		bucket = DefaultNATSBucket
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "foreman distributed locks",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("bind kv bucket %s: %w", bucket, err)
	}
	return &NATSBackend{kv: kv, conn: nc, now: time.Now, bucket: bucket}, nil
}

// DialNATS connects to url and binds the lock bucket.
func DialNATS(ctx context.Context, url, bucket string) (*NATSBackend, error) {
	nc, err := nats.Connect(url, nats.Name("foreman-lock"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	b, err := NewNATSBackend(ctx, nc, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.ownNC = true
	return b, nil
}

// SetNX implements Backend. An expired record is taken over with an update
// pinned to the revision that was read, so two contenders cannot both win.
func (b *NATSBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	k := kvKey(key)
	data, err := b.encode(value, ttl)
	if err != nil {
		return false, err
	}

	_, err = b.kv.Create(ctx, k, data)
	if err == nil {
		return true, nil
	}
	if !isRevisionConflict(err) {
		return false, err
	}

	entry, err := b.kv.Get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		// Deleted between Create and Get.
		if _, err := b.kv.Create(ctx, k, data); err != nil {
			if isRevisionConflict(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	rec, err := decodeRecord(entry.Value())
	if err == nil && rec.live(b.now()) {
		return false, nil
	}
	if _, err := b.kv.Update(ctx, k, data, entry.Revision()); err != nil {
		if isRevisionConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CompareAndDelete implements Backend.
func (b *NATSBackend) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	k := kvKey(key)
	entry, ok, err := b.owned(ctx, k, value)
	if err != nil || !ok {
		return false, err
	}
	if err := b.kv.Delete(ctx, k, jetstream.LastRevision(entry.Revision())); err != nil {
		if isRevisionConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CompareAndRefresh implements Backend.
func (b *NATSBackend) CompareAndRefresh(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	k := kvKey(key)
	entry, ok, err := b.owned(ctx, k, value)
	if err != nil || !ok {
		return false, err
	}
	data, err := b.encode(value, ttl)
	if err != nil {
		return false, err
	}
	if _, err := b.kv.Update(ctx, k, data, entry.Revision()); err != nil {
		if isRevisionConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// owned returns the current entry when it is live and holds value.
func (b *NATSBackend) owned(ctx context.Context, k, value string) (jetstream.KeyValueEntry, bool, error) {
	entry, err := b.kv.Get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decodeRecord(entry.Value())
	if err != nil || rec.Value != value || !rec.live(b.now()) {
		return nil, false, nil
	}
	return entry, true, nil
}

// Close closes the connection if the backend opened it.
func (b *NATSBackend) Close() error {
	if b.ownNC {
		b.conn.Close()
	}
	return nil
}

func (b *NATSBackend) encode(value string, ttl time.Duration) ([]byte, error) {
	return json.Marshal(natsRecord{Value: value, ExpiresAt: b.now().Add(ttl).UnixMilli()})
}

func decodeRecord(data []byte) (natsRecord, error) {
	var rec natsRecord
	err := json.Unmarshal(data, &rec)
	return rec, err
}

// isRevisionConflict reports whether err is JetStream rejecting a write
// because the key changed since it was read.
func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// kvKey maps a lock key onto the characters JetStream KV accepts.
func kvKey(key string) string {
	var sb strings.Builder
	sb.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '/', r == '=':
			sb.WriteRune(r)
		case r == ':' || r == '.':
			sb.WriteByte('.')
		default:
			sb.WriteByte('_')
		}
	}
	return strings.Trim(sb.String(), ".")
}
