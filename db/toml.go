package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"peerchat/models"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	currentSchemaVersion = 1
	dataFileMode         = 0o600
	dataDirMode          = 0o700
	tempFilePattern      = ".peerchat-*.toml.tmp"
)

type fileSchema struct {
	Version  int                 `toml:"version"`
	Users    []userSchema        `toml:"users"`
	Friends  map[string][]string `toml:"friends"`
	Requests map[string][]string `toml:"requests"`
}

type userSchema struct {
	Login    string `toml:"login"`
	Password string `toml:"password"`
}

// FileStore keeps the snapshot in a single TOML file, replaced atomically on Save.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("db: toml path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve toml path: %w", err)
	}
	return &FileStore{path: filepath.Clean(abs)}, nil
}

func (f *FileStore) Load(ctx context.Context) (models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := models.NewSnapshot()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, nil
		}
		return snap, fmt.Errorf("read data file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return snap, fmt.Errorf("decode data file: %w", err)
	}
	if file.Version > currentSchemaVersion {
		return snap, fmt.Errorf("unsupported data schema version %d (current %d)", file.Version, currentSchemaVersion)
	}

	for _, u := range file.Users {
		snap.Passwords[u.Login] = u.Password
	}
	if file.Friends != nil {
		snap.Friends = file.Friends
	}
	if file.Requests != nil {
		snap.Requests = file.Requests
	}
	normalize(&snap)
	return snap, nil
}

func (f *FileStore) Save(ctx context.Context, snap models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file := fileSchema{
		Version:  currentSchemaVersion,
		Friends:  snap.Friends,
		Requests: snap.Requests,
	}
	for _, login := range sortedKeys(snap.Passwords) {
		file.Users = append(file.Users, userSchema{Login: login, Password: snap.Passwords[login]})
	}

	if err := os.MkdirAll(filepath.Dir(f.path), dataDirMode); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode data file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(f.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp data file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp data file: %w", err)
	}
	if err := tempFile.Chmod(dataFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp data file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp data file: %w", err)
	}
	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	cleanup = false
	return nil
}

func (f *FileStore) Close() error { return nil }
