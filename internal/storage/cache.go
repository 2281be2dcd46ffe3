package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"forum-chat/internal/chatstore"
)

const conversationsBucket = "conversations"

// ConversationCache persists confirmed direct messages per peer using BoltDB
// so recent backlogs survive a client restart. Keys are ordered by
// (createdAt, id), so a cursor walk yields chronological order for free.
type ConversationCache struct {
	db *bbolt.DB
}

func OpenConversationCache(path string) (*ConversationCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(conversationsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ConversationCache{db: db}, nil
}

func (c *ConversationCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Append stores one confirmed message under its peer's bucket. Re-appending
// the same message overwrites the same key, so replays are harmless.
func (c *ConversationCache) Append(peerID int64, msg chatstore.Message) error {
	if c == nil || c.db == nil {
		return nil
	}
	if msg.ID == 0 {
		return fmt.Errorf("refusing to cache message without server id")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(conversationsBucket))
		bucket, err := root.CreateBucketIfNotExists(peerKey(peerID))
		if err != nil {
			return err
		}
		return bucket.Put(messageKey(msg), data)
	})
}

// Recent returns up to limit newest messages for peerID, ascending.
func (c *ConversationCache) Recent(peerID int64, limit int) ([]chatstore.Message, error) {
	if c == nil || c.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []chatstore.Message
	err := c.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(conversationsBucket))
		if root == nil {
			return nil
		}
		bucket := root.Bucket(peerKey(peerID))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && limit > 0; k, v = cursor.Prev() {
			var msg chatstore.Message
			if err := json.Unmarshal(v, &msg); err == nil {
				out = append(out, msg)
			}
			limit--
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Cursor walked newest-first; callers want chronological order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Peers lists every peer id with cached messages.
func (c *ConversationCache) Peers() ([]int64, error) {
	if c == nil || c.db == nil {
		return nil, nil
	}
	var out []int64
	err := c.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(conversationsBucket))
		if root == nil {
			return nil
		}
		return root.ForEachBucket(func(k []byte) error {
			var id int64
			if _, err := fmt.Sscanf(string(k), "%020d", &id); err == nil {
				out = append(out, id)
			}
			return nil
		})
	})
	return out, err
}

func peerKey(peerID int64) []byte {
	return []byte(fmt.Sprintf("%020d", peerID))
}

func messageKey(msg chatstore.Message) []byte {
	return []byte(fmt.Sprintf("%020d-%020d", msg.CreatedAt.UnixNano(), msg.ID))
}
