// Package filestore persists small JSON documents as a map of named
// sections in a single file. Writes are serialized across processes with a
// lock file and land atomically through a temp-file rename.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// File is a JSON file holding top-level sections keyed by name.
type File struct {
	path string
}

// document is the on-disk layout.
type document struct {
	Sections map[string]json.RawMessage `json:"sections"`
}

// New returns a File stored at path. The file is created on first write.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the location of the backing file.
func (f *File) Path() string {
	return f.path
}

// Load decodes the section stored under key into v.
// It reports false when the file or the section does not exist.
func (f *File) Load(key string, v any) (bool, error) {
	doc, err := f.read()
	if err != nil {
		return false, err
	}

	raw, ok := doc.Sections[key]
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode section %q: %w", key, err)
	}
	return true, nil
}

// Store replaces the section under key with v, keeping all other sections.
func (f *File) Store(key string, v any) error {
	return f.StoreMany(map[string]any{key: v})
}

// StoreMany replaces several sections in one locked write.
func (f *File) StoreMany(values map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(values))
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode section %q: %w", key, err)
		}
		encoded[key] = raw
	}

	return f.update(func(sections map[string]json.RawMessage) {
		for key, raw := range encoded {
			sections[key] = raw
		}
	})
}

// Delete removes the given sections. Deleting a missing key is not an error.
func (f *File) Delete(keys ...string) error {
	return f.update(func(sections map[string]json.RawMessage) {
		for _, key := range keys {
			delete(sections, key)
		}
	})
}

// ForceDelete removes the given sections without waiting for the file lock.
// The write is still atomic, but a writer holding the lock may overwrite it.
func (f *File) ForceDelete(keys ...string) error {
	return f.apply(func(sections map[string]json.RawMessage) {
		for _, key := range keys {
			delete(sections, key)
		}
	})
}

// update runs fn on the current sections while holding the file lock, then
// writes the result back.
func (f *File) update(fn func(map[string]json.RawMessage)) error {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	// read inside the lock so concurrent writers merge instead of clobbering
	return f.apply(fn)
}

// apply is the read-modify-write step of update, without the lock.
func (f *File) apply(fn func(map[string]json.RawMessage)) error {
	doc, err := f.read()
	if err != nil {
		// a corrupt file is replaced rather than blocking every future write
		doc = document{}
	}
	if doc.Sections == nil {
		doc.Sections = make(map[string]json.RawMessage)
	}

	fn(doc.Sections)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	return f.writeAtomic(data)
}

func (f *File) read() (document, error) {
	var doc document

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *File) writeAtomic(data []byte) error {
	tempFile := f.path + tempFileSuffix
	if err := os.WriteFile(tempFile, data, dataFilePerm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
