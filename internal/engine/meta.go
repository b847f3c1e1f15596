package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/tuannm99/novats/internal/record"
)

const metaFile = "meta.json"

type TableMeta struct {
	Name      string        `json:"name"`
	Schema    record.Schema `json:"schema"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// writeTableMeta overwrites the meta file of a table.
func writeTableMeta(fs afero.Fs, dir string, meta *TableMeta) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, metaFile+".tmp")
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	return fs.Rename(tmp, filepath.Join(dir, metaFile))
}

// readTableMeta loads table metadata from its JSON file.
func readTableMeta(fs afero.Fs, dir string) (*TableMeta, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, metaFile))
	if err != nil {
		return nil, err
	}
	var meta TableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func hasTableMeta(fs afero.Fs, dir string) bool {
	_, err := fs.Stat(filepath.Join(dir, metaFile))
	return err == nil || !os.IsNotExist(err)
}
