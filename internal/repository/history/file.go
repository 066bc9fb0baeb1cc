package history

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/gofrs/flock"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	// Register SHA512 for checksum verification.
	_ "crypto/sha512"
)

const (
	// fileMode is the permission of the history file.
	fileMode os.FileMode = 0o600
	// lockRetryDelay is the polling interval while another process holds the lock.
	lockRetryDelay = 50 * time.Millisecond
	// checksumFunction verifies the replacement content.
	checksumFunction = crypto.SHA512
)

var errLockNotAcquired = errors.New("history lock not acquired")

// FileStore persists history as a JSON document on disk.
type FileStore struct {
	// path is the history JSON file.
	path string
	// lock serialises access across processes.
	lock *flock.Flock
	// mu serialises access within the process.
	mu sync.Mutex
}

// NewFileStore creates a store for the JSON file at path.
func NewFileStore(path string) *FileStore {
	path = filepath.Clean(path)

	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the history file location.
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string) ([]float64, error) {
	var values []float64

	err := s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}

		field, ok := doc.GetFields()[key]
		if !ok {
			return ErrNotFound
		}

		for _, v := range field.GetListValue().GetValues() {
			values = append(values, v.GetNumberValue())
		}

		return nil
	})

	return values, err
}

// Put implements Store. The file is replaced atomically.
func (s *FileStore) Put(ctx context.Context, key string, values []float64) error {
	return s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}

		list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(values))}
		for _, v := range values {
			list.Values = append(list.Values, structpb.NewNumberValue(v))
		}

		doc.Fields[key] = structpb.NewListValue(list)

		return s.write(doc)
	})
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock history: %w", err)
	}

	if !locked {
		return errLockNotAcquired
	}

	defer func() {
		_ = s.lock.Unlock()
	}()

	return fn()
}

// read returns the stored document; a missing or empty file yields an empty one.
func (s *FileStore) read() (*structpb.Struct, error) {
	doc := &structpb.Struct{Fields: make(map[string]*structpb.Value)}

	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}

		return nil, fmt.Errorf("read history file: %w", err)
	}

	if len(bytes.TrimSpace(contents)) == 0 {
		return doc, nil
	}

	if err = protojson.Unmarshal(contents, doc); err != nil {
		return nil, fmt.Errorf("decode history file: %w", err)
	}

	if doc.Fields == nil {
		doc.Fields = make(map[string]*structpb.Value)
	}

	return doc, nil
}

func (s *FileStore) write(doc *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	// The replacement renames the current file away first, so it has to exist.
	if _, err = os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(s.path, nil, fileMode); err != nil {
			return fmt.Errorf("create history file: %w", err)
		}
	}

	hasher := checksumFunction.New()
	_, _ = hasher.Write(data)

	options := goupdate.Options{
		TargetPath: s.path,
		TargetMode: fileMode,
		Checksum:   hasher.Sum(nil),
		Hash:       checksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}

	if oldPath := s.path + ".old"; fileExists(oldPath) {
		_ = os.Remove(oldPath)
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
