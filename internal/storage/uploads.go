package storage

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const uploadsBucket = "uploads"

// maxUploadSize bounds a single attachment. Matches the browser client's
// image-size limit.
const maxUploadSize = 5 << 20

// UploadRecord describes one stored attachment; the URL field is what gets
// embedded in a message's imageUrl.
type UploadRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Uploader  int64     `json:"uploader"`
	Mime      string    `json:"mime,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// URL returns the serving path for the attachment.
func (r UploadRecord) URL() string {
	return "/api/uploads/" + r.ID
}

type uploadEntry struct {
	UploadRecord
	Path string `json:"path"`
}

// UploadStore persists image attachments on disk and records their metadata
// in BoltDB.
type UploadStore struct {
	db  *bbolt.DB
	dir string
}

func OpenUploadStore(dbPath, dir string) (*UploadStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(uploadsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &UploadStore{db: db, dir: dir}, nil
}

func (s *UploadStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save streams one attachment to disk and records it. Only image content is
// accepted.
func (s *UploadStore) Save(originalName string, uploader int64, src io.Reader) (UploadRecord, error) {
	if s == nil || s.db == nil {
		return UploadRecord{}, fmt.Errorf("upload store not initialized")
	}
	cleaned := sanitizeFileName(originalName)
	if cleaned == "" {
		cleaned = "upload.bin"
	}
	id := newUploadID()
	path := filepath.Join(s.dir, id)
	dst, err := os.Create(path)
	if err != nil {
		return UploadRecord{}, err
	}
	defer dst.Close()
	size, err := io.Copy(dst, io.LimitReader(src, maxUploadSize+1))
	if err != nil {
		_ = os.Remove(path)
		return UploadRecord{}, err
	}
	if size > maxUploadSize {
		_ = os.Remove(path)
		return UploadRecord{}, fmt.Errorf("attachment exceeds %d bytes", maxUploadSize)
	}
	mime := detectMime(path)
	if !strings.HasPrefix(mime, "image/") {
		_ = os.Remove(path)
		return UploadRecord{}, fmt.Errorf("unsupported attachment type %q", mime)
	}
	entry := uploadEntry{
		UploadRecord: UploadRecord{
			ID:        id,
			Name:      cleaned,
			Size:      size,
			Uploader:  uploader,
			Mime:      mime,
			CreatedAt: time.Now().UTC(),
		},
		Path: path,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return UploadRecord{}, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(uploadsBucket))
		return bucket.Put([]byte(entry.ID), data)
	})
	if err != nil {
		return UploadRecord{}, err
	}
	return entry.UploadRecord, nil
}

// Open returns the record and an open file handle for serving.
func (s *UploadStore) Open(id string) (UploadRecord, *os.File, error) {
	if s == nil || s.db == nil {
		return UploadRecord{}, nil, fmt.Errorf("upload store not initialized")
	}
	var entry uploadEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(uploadsBucket))
		if bucket == nil {
			return fmt.Errorf("missing bucket")
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("upload not found")
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return UploadRecord{}, nil, err
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		return UploadRecord{}, nil, err
	}
	return entry.UploadRecord, f, nil
}

func sanitizeFileName(name string) string {
	cleaned := filepath.Base(name)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" || cleaned == "." {
		return ""
	}
	if cleaned == "/" || cleaned == "\\" || cleaned == string(filepath.Separator) {
		return ""
	}
	return cleaned
}

func newUploadID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}

func detectMime(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}
