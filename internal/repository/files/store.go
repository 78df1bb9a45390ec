package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// maxExtLen guards against odd "extensions" taken from client file names.
const maxExtLen = 10

// metaDir holds one <id>.json per upload with the client-side file name.
const metaDir = ".meta"

// StoredFile describes an uploaded file on disk.
type StoredFile struct {
	ID           string `json:"file_id"`
	Path         string `json:"-"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

// fileMeta is what the disk layout cannot recover from <uuid><ext> alone.
type fileMeta struct {
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
}

// Store keeps uploads in a single directory as <uuid><ext>, with the original
// name and mime type in .meta/<uuid>.json.
type Store struct {
	dir   string
	newID func() string
}

// New creates the upload directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, metaDir), 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &Store{dir: dir, newID: uuid.NewString}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// Save writes r under a fresh id. The extension of originalName is kept so
// the extractor can detect the format. At most maxBytes are accepted when
// maxBytes > 0.
func (s *Store) Save(
	ctx context.Context, originalName, mimeType string, r io.Reader, maxBytes int64,
) (StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return StoredFile{}, err
	}
	name := filepath.Base(strings.TrimSpace(originalName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return StoredFile{}, fmt.Errorf("file name is required: %w", domain.ErrInvalidRequest)
	}

	id := s.newID()
	path := filepath.Join(s.dir, id+safeExt(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return StoredFile{}, fmt.Errorf("create %s: %w", path, err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return StoredFile{}, fmt.Errorf("write %s: %w", path, copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return StoredFile{}, fmt.Errorf("close %s: %w", path, closeErr)
	case maxBytes > 0 && n > maxBytes:
		_ = os.Remove(path)
		return StoredFile{}, fmt.Errorf("%s exceeds %d bytes: %w", name, maxBytes, domain.ErrFileTooLarge)
	}

	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			mimeType = byExt
		}
	}
	if err := s.writeMeta(id, fileMeta{OriginalName: name, MimeType: mimeType}); err != nil {
		_ = os.Remove(path)
		return StoredFile{}, err
	}
	return StoredFile{ID: id, Path: path, OriginalName: name, MimeType: mimeType, Size: n}, nil
}

// Lookup returns the stored file with id, including the name it was uploaded
// under. Files without metadata report their stored name.
func (s *Store) Lookup(id string) (StoredFile, error) {
	path, err := s.Find(id)
	if err != nil {
		return StoredFile{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StoredFile{}, fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
		}
		return StoredFile{}, fmt.Errorf("stat %s: %w", path, err)
	}

	meta, err := s.readMeta(id)
	if err != nil {
		return StoredFile{}, err
	}
	if meta.OriginalName == "" {
		meta.OriginalName = filepath.Base(path)
	}
	if meta.MimeType == "" {
		meta.MimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	return StoredFile{
		ID:           id,
		Path:         path,
		OriginalName: meta.OriginalName,
		MimeType:     meta.MimeType,
		Size:         info.Size(),
	}, nil
}

// Find returns the path of the stored file with id.
func (s *Store) Find(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("file id %q: %w", id, domain.ErrInvalidRequest)
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, id+"*"))
	if err != nil {
		return "", fmt.Errorf("find %s: %w", id, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	return matches[0], nil
}

// Delete removes the stored file with id.
func (s *Store) Delete(id string) error {
	path, err := s.Find(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove metadata of %s: %w", id, err)
	}
	return nil
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.dir, metaDir, id+".json")
}

func (s *Store) writeMeta(id string, m fileMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metadata of %s: %w", id, err)
	}
	if err := os.WriteFile(s.metaPath(id), data, 0o640); err != nil {
		return fmt.Errorf("write metadata of %s: %w", id, err)
	}
	return nil
}

// readMeta returns zero metadata when the sidecar is missing.
func (s *Store) readMeta(id string) (fileMeta, error) {
	var m fileMeta
	data, err := os.ReadFile(s.metaPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("read metadata of %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode metadata of %s: %w", id, err)
	}
	return m, nil
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
