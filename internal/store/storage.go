// Package store persists workflows as JSONL files in a flat directory.
// Each file opens with a metadata line followed by one event per line.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"desktrace/internal/event"
)

const (
	// DefaultDirName is created under the user's home directory when no
	// explicit directory is configured.
	DefaultDirName = ".desktrace"

	fileExt = ".jsonl"

	// Event lines can carry a truncated clipboard snapshot but stay small;
	// this bound guards against scanning a file that is not ours.
	maxLineBytes = 1 << 20
)

// ErrNotFound is returned when a workflow file does not exist.
var ErrNotFound = errors.New("workflow not found")

// Store reads and writes workflow files under one directory.
type Store struct {
	dir string
}

// metadata is the first line of every workflow file.
type metadata struct {
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
	Events  int       `json:"events"`
}

// Entry describes one stored workflow, cheap enough to list without
// parsing event lines.
type Entry struct {
	Name    string    `json:"name"`
	File    string    `json:"file"`
	Created time.Time `json:"created"`
	Events  int       `json:"events"`
}

// CorruptLine records an event line that failed to parse during Load.
type CorruptLine struct {
	Line int
	Raw  string
	Err  error
}

// Open ensures the storage directory exists. An empty dir selects
// ~/.desktrace.
func Open(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory path.
func (s *Store) Dir() string { return s.dir }

// Save writes a workflow to a new file named after the workflow and its
// creation time, and returns the file name.
func (s *Store) Save(wf *event.Workflow) (string, error) {
	name := sanitizeName(wf.Name)
	file := fmt.Sprintf("%s_%s%s", name, wf.CreatedAt.Format("20060102_150405"), fileExt)
	path := filepath.Join(s.dir, file)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create workflow file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	if err := enc.Encode(metadata{Name: wf.Name, Created: wf.CreatedAt, Events: len(wf.Events)}); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	for i, e := range wf.Events {
		if err := enc.Encode(e); err != nil {
			return "", fmt.Errorf("write event %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("flush workflow file: %w", err)
	}
	return file, nil
}

// Load parses a workflow file. Event lines that fail to parse are
// collected and skipped so one bad line never loses a recording.
func (s *Store) Load(file string) (*event.Workflow, []CorruptLine, error) {
	f, err := os.Open(s.path(file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%s: %w", file, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("open workflow file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, nil, fmt.Errorf("read metadata: %w", err)
		}
		return nil, nil, fmt.Errorf("%s: empty workflow file", file)
	}
	var meta metadata
	var corrupt []CorruptLine
	if err := json.Unmarshal(sc.Bytes(), &meta); err != nil {
		// A damaged header must not lose an otherwise intact recording;
		// fall back to a name derived from the file name.
		corrupt = append(corrupt, CorruptLine{Line: 1, Raw: sc.Text(), Err: err})
		meta.Name = nameFromFile(file)
	}

	wf := &event.Workflow{Name: meta.Name, CreatedAt: meta.Created}
	line := 1
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var e event.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			corrupt = append(corrupt, CorruptLine{Line: line, Raw: string(raw), Err: err})
			continue
		}
		wf.Events = append(wf.Events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read workflow file: %w", err)
	}
	if len(wf.Events) == 0 && len(corrupt) > 0 {
		return nil, corrupt, fmt.Errorf("%s: no valid event lines", file)
	}
	return wf, corrupt, nil
}

// List returns the stored workflows, newest first. Files whose metadata
// cannot be parsed are skipped.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read storage directory: %w", err)
	}

	var entries []Entry
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileExt) {
			continue
		}
		meta, err := s.readMetadata(d.Name())
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    meta.Name,
			File:    d.Name(),
			Created: meta.Created,
			Events:  meta.Events,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Created.After(entries[j].Created)
	})
	return entries, nil
}

// Delete removes a stored workflow file.
func (s *Store) Delete(file string) error {
	if err := os.Remove(s.path(file)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", file, ErrNotFound)
		}
		return fmt.Errorf("delete workflow file: %w", err)
	}
	return nil
}

func (s *Store) readMetadata(file string) (metadata, error) {
	f, err := os.Open(s.path(file))
	if err != nil {
		return metadata{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	if !sc.Scan() {
		return metadata{}, fmt.Errorf("empty file")
	}
	var meta metadata
	if err := json.Unmarshal(sc.Bytes(), &meta); err != nil {
		return metadata{}, err
	}
	return meta, nil
}

func (s *Store) path(file string) string {
	// Stored files are addressed by bare name; strip any path components
	// so a caller cannot escape the storage directory.
	return filepath.Join(s.dir, filepath.Base(file))
}

// nameFromFile recovers a display name from a workflow file name when the
// metadata line is unreadable, dropping the timestamp suffix Save appends.
func nameFromFile(file string) string {
	name := strings.TrimSuffix(filepath.Base(file), fileExt)
	parts := strings.Split(name, "_")
	if len(parts) >= 3 {
		ts := parts[len(parts)-2] + "_" + parts[len(parts)-1]
		if _, err := time.Parse("20060102_150405", ts); err == nil {
			name = strings.Join(parts[:len(parts)-2], "_")
		}
	}
	if name == "" {
		return "workflow"
	}
	return name
}

// sanitizeName reduces a workflow name to a safe file name fragment.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "workflow"
	}
	return b.String()
}
