package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/afero"

	"github.com/tuannm99/novats/internal/record"
)

const (
	manifestName    = "MANIFEST"
	manifestTmpName = "MANIFEST.tmp"
	manifestVersion = 1
)

// Manifest is the committed segment set of a table. Replacing the MANIFEST
// file is the commit point of a flush.
type Manifest struct {
	Version    int    `cbor:"1,keyasint"`
	Generation uint64 `cbor:"2,keyasint"`
	// Every write with seq <= FlushedSeq is reflected in Segments.
	FlushedSeq uint64 `cbor:"3,keyasint"`
	Segments   []Meta `cbor:"4,keyasint"`
}

// Rows is the total row count across segments.
func (m Manifest) Rows() int {
	n := 0
	for _, s := range m.Segments {
		n += int(s.Rows)
	}
	return n
}

// LoadManifest reads dir/MANIFEST. A missing file yields an empty manifest.
func LoadManifest(fs afero.Fs, dir string) (Manifest, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{Version: manifestVersion}, nil
		}
		return Manifest{}, err
	}
	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest: %v", record.ErrCorruption, err)
	}
	if m.Version != manifestVersion {
		return Manifest{}, fmt.Errorf("%w: manifest version %d", record.ErrCorruption, m.Version)
	}
	return m, nil
}

// SaveManifest writes m to a temp file and renames it over dir/MANIFEST.
func SaveManifest(fs afero.Fs, dir string, m Manifest) error {
	m.Version = manifestVersion
	data, err := cbor.Marshal(m)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, manifestTmpName)
	f, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, filepath.Join(dir, manifestName)); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}

// Orphans lists segment files in dir that m does not reference, e.g. files
// left behind by a crash between writing segments and committing.
func Orphans(fs afero.Fs, dir string, m Manifest) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	live := make(map[string]bool, len(m.Segments))
	for _, s := range m.Segments {
		live[filepath.Base(Path(dir, s.ID))] = true
	}
	var out []string
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || filepath.Ext(name) != fileSuffix || live[name] {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
