// Package imagestore keeps the enrollment photos of every person in a folder named after the
// person's identity label. Files are named by their perceptual hash, so uploading the same
// photo twice stores it once.
package imagestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/kozaktomas/facegate/internal/artifact"
	"github.com/kozaktomas/facegate/internal/fingerprint"
	"github.com/kozaktomas/facegate/internal/imaging"
)

// ErrFolderNotFound is returned when a label has no image folder.
var ErrFolderNotFound = errors.New("image folder not found")

// manifestName lists the photos of a folder that were already enrolled.
const manifestName = ".enrolled.json"

var extensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"bmp":  ".bmp",
	"tiff": ".tiff",
	"webp": ".webp",
}

// SaveResult describes one stored upload.
type SaveResult struct {
	Name      string `json:"name"`
	Duplicate bool   `json:"duplicate"` // a near-identical photo was already stored; nothing was written
}

// Store manages the per-person image folders below a root directory.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating image directory %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Dir returns the folder of a label.
func (s *Store) Dir(label int) string {
	return filepath.Join(s.root, strconv.Itoa(label))
}

// Create makes the folder for a label. Creating an existing folder is not an error.
func (s *Store) Create(label int) error {
	if err := os.MkdirAll(s.Dir(label), 0o750); err != nil {
		return fmt.Errorf("creating image folder for %d: %w", label, err)
	}
	return nil
}

// Exists reports whether a label has a folder.
func (s *Store) Exists(label int) bool {
	info, err := os.Stat(s.Dir(label))
	return err == nil && info.IsDir()
}

// Save stores one photo for label. The data must decode as an image.
func (s *Store) Save(label int, data []byte) (SaveResult, error) {
	if !s.Exists(label) {
		return SaveResult{}, fmt.Errorf("%w: %d", ErrFolderNotFound, label)
	}

	img, format, err := imaging.Decode(data)
	if err != nil {
		return SaveResult{}, err
	}
	hash := fingerprint.FromImage(img)
	ext, ok := extensions[format]
	if !ok {
		ext = "." + format
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.list(label)
	if err != nil {
		return SaveResult{}, err
	}
	var existing fingerprint.Set
	for _, name := range names {
		if h, err := fingerprint.Parse(strings.TrimSuffix(name, filepath.Ext(name))); err == nil {
			existing.Add(h)
		}
	}
	if match, ok := existing.Match(hash, fingerprint.DuplicateThreshold); ok {
		return SaveResult{Name: match.String(), Duplicate: true}, nil
	}

	name := hash.String() + ext
	if err := artifact.WriteFile(filepath.Join(s.Dir(label), name), data); err != nil {
		return SaveResult{}, fmt.Errorf("saving image for %d: %w", label, err)
	}
	return SaveResult{Name: name}, nil
}

// List returns the image file names of a label in lexical order.
func (s *Store) List(label int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(label)
}

func (s *Store) list(label int) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(label))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d", ErrFolderNotFound, label)
	}
	if err != nil {
		return nil, fmt.Errorf("reading image folder for %d: %w", label, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if slices.Contains([]string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}, ext) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Load reads every image of a label.
func (s *Store) Load(label int) ([][]byte, error) {
	names, err := s.List(label)
	if err != nil {
		return nil, err
	}
	images := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.Dir(label), name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		images = append(images, data)
	}
	return images, nil
}

// Pending returns the names and contents of the photos of label that have not been enrolled.
func (s *Store) Pending(label int) ([]string, [][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.list(label)
	if err != nil {
		return nil, nil, err
	}
	enrolled, err := s.enrolled(label)
	if err != nil {
		return nil, nil, err
	}

	var pending []string
	var images [][]byte
	for _, name := range names {
		if enrolled[name] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.Dir(label), name))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", name, err)
		}
		pending = append(pending, name)
		images = append(images, data)
	}
	return pending, images, nil
}

// MarkEnrolled records names as enrolled so Pending skips them.
func (s *Store) MarkEnrolled(label int, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enrolled, err := s.enrolled(label)
	if err != nil {
		return err
	}
	for _, name := range names {
		enrolled[name] = true
	}
	all := make([]string, 0, len(enrolled))
	for name := range enrolled {
		all = append(all, name)
	}
	slices.Sort(all)

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return artifact.WriteFile(filepath.Join(s.Dir(label), manifestName), data)
}

func (s *Store) enrolled(label int) (map[string]bool, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(label), manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest for %d: %w", label, err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decoding manifest for %d: %w", label, err)
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set, nil
}
