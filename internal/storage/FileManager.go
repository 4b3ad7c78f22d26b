package storage

import (
	"dupguard/internal/providers"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// FileManager does whole-document JSON I/O. Writes go to a temp file that is
// synced and renamed over the target, so readers see either the old or the
// new document, never a partial one.
type FileManager struct {
	logger providers.Logger
}

func NewFileManager(logger providers.Logger) *FileManager {
	return &FileManager{logger: logger}
}

func (f *FileManager) SaveJSON(fileName string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return f.SaveBytes(fileName, data)
}

func (f *FileManager) SaveBytes(fileName string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return err
	}

	file, err := os.CreateTemp(filepath.Dir(fileName), filepath.Base(fileName)+".*.tmp")
	if err != nil {
		return err
	}
	tmpFile := file.Name()

	if err = file.Chmod(0644); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	_, err = file.Write(data)
	if err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	if err = os.Rename(tmpFile, fileName); err != nil {
		os.Remove(tmpFile)
		return err
	}
	return nil
}

// LoadJSON decodes fileName into v. A missing file is not an error; the
// boolean reports whether anything was read.
func (f *FileManager) LoadJSON(fileName string, v any) (bool, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}
