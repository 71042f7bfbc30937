package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"plate/api/internal/model"
)

const plateFile = "plate.json"

// GitStore keeps one git repository per plate under a base directory. Every
// Put commits plate.json; an unchanged plate reuses the previous commit.
type GitStore struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitStore(baseDir string) (*GitStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &GitStore{baseDir: baseDir, now: time.Now, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *GitStore) Put(ctx context.Context, plate model.Plate) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	if err := validPlateID(plate.ID); err != nil {
		return Info{}, err
	}
	lock := s.plateLock(plate.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(plate.ID)
	if err != nil {
		return Info{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Info{}, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(plate, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("encode plate %s: %w", plate.ID, err)
	}
	if err := os.WriteFile(filepath.Join(s.repoPath(plate.ID), plateFile), append(payload, '\n'), 0o644); err != nil {
		return Info{}, fmt.Errorf("write %s: %w", plateFile, err)
	}
	if _, err := worktree.Add(plateFile); err != nil {
		return Info{}, fmt.Errorf("git add %s: %w", plateFile, err)
	}

	when := s.now().UTC().Truncate(time.Second)
	hash, err := worktree.Commit("Snapshot "+plate.Name, &git.CommitOptions{
		Author: &object.Signature{Name: "Plate", Email: "snapshots@plate.local", When: when},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, headErr := repo.Head()
		if headErr != nil {
			return Info{}, fmt.Errorf("resolve head: %w", headErr)
		}
		hash, err = head.Hash(), nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return Info{}, fmt.Errorf("read commit object: %w", err)
	}
	return toInfo(plate.ID, commit), nil
}

// List walks the plate's history from HEAD, newest first. A plate that was
// never snapshotted has an empty history.
func (s *GitStore) List(ctx context.Context, plateID string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validPlateID(plateID); err != nil {
		return nil, err
	}
	lock := s.plateLock(plateID)
	lock.Lock()
	defer lock.Unlock()

	out := []Info{}
	repo, err := git.PlainOpen(s.repoPath(plateID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(commit *object.Commit) error {
		out = append(out, toInfo(plateID, commit))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return out, nil
}

// Get reads the plate stored at a key returned by Put or List.
func (s *GitStore) Get(ctx context.Context, key string) (model.Plate, error) {
	if err := ctx.Err(); err != nil {
		return model.Plate{}, err
	}
	plateID, hash, ok := splitGitKey(key)
	if !ok {
		return model.Plate{}, ErrNotFound
	}
	lock := s.plateLock(plateID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(plateID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return model.Plate{}, ErrNotFound
	}
	if err != nil {
		return model.Plate{}, fmt.Errorf("open repo: %w", err)
	}
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return model.Plate{}, ErrNotFound
	}
	if err != nil {
		return model.Plate{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readPlate(commit)
}

func (s *GitStore) ensureRepo(plateID string) (*git.Repository, error) {
	path := s.repoPath(plateID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *GitStore) repoPath(plateID string) string {
	return filepath.Join(s.baseDir, plateID)
}

func (s *GitStore) plateLock(plateID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[plateID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[plateID] = lock
	}
	return lock
}

func readPlate(commit *object.Commit) (model.Plate, error) {
	file, err := commit.File(plateFile)
	if errors.Is(err, object.ErrFileNotFound) {
		return model.Plate{}, ErrNotFound
	}
	if err != nil {
		return model.Plate{}, fmt.Errorf("load %s from commit: %w", plateFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return model.Plate{}, fmt.Errorf("open %s: %w", plateFile, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return model.Plate{}, fmt.Errorf("read %s: %w", plateFile, err)
	}
	var plate model.Plate
	if err := json.Unmarshal(data, &plate); err != nil {
		return model.Plate{}, fmt.Errorf("decode %s: %w", plateFile, err)
	}
	return plate, nil
}

func toInfo(plateID string, commit *object.Commit) Info {
	info := Info{
		Key:     gitKey(plateID, commit.Hash.String()),
		PlateID: plateID,
		TakenAt: commit.Author.When.UTC(),
	}
	if file, err := commit.File(plateFile); err == nil {
		info.Size = file.Size
	}
	return info
}

func gitKey(plateID, hash string) string {
	return "plates/" + plateID + "/" + hash
}

func splitGitKey(key string) (plateID, hash string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "plates" || len(parts[2]) != 40 {
		return "", "", false
	}
	if validPlateID(parts[1]) != nil {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func validPlateID(plateID string) error {
	if plateID == "" || plateID == "." || plateID == ".." || strings.ContainsAny(plateID, `/\`) {
		return fmt.Errorf("invalid plate id %q", plateID)
	}
	return nil
}
