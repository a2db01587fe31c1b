/*
Copyright © 2022 the Footprint authors.
This file is part of Footprint.

Footprint is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Footprint is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Footprint.  If not, see <http://www.gnu.org/licenses/>.
*/

package footprint

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Artifact records one completed pipeline output.
type Artifact struct {
	Path      string    `json:"path"` // relative to the workspace root
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	Completed time.Time `json:"completed"`
}

// Manifest is the artifact ledger of a workspace. A stage's output
// counts as done only when its manifest entry exists and the file on
// disk still matches the recorded size, so an interrupted write is
// redone on the next run instead of being mistaken for a finished
// artifact.
type Manifest struct {
	dir  string
	path string

	mx        sync.Mutex
	Artifacts map[string]Artifact `json:"artifacts"`
}

const manifestName = "manifest.json"

// OpenManifest loads the manifest of workspace dir, creating an empty
// one if none exists yet.
func OpenManifest(dir string) (*Manifest, error) {
	m := &Manifest{
		dir:       dir,
		path:      filepath.Join(dir, manifestName),
		Artifacts: make(map[string]Artifact),
	}
	data, err := ioutil.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("footprint: reading manifest %s: %v", m.path, err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("footprint: parsing manifest %s: %v", m.path, err)
	}
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]Artifact)
	}
	return m, nil
}

// rel converts a path under the workspace to the ledger key.
func (m *Manifest) rel(path string) string {
	if r, err := filepath.Rel(m.dir, path); err == nil {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(path)
}

// Completed reports whether path was recorded as complete and still
// matches the ledger.
func (m *Manifest) Completed(path string) bool {
	m.mx.Lock()
	a, ok := m.Artifacts[m.rel(path)]
	m.mx.Unlock()
	if !ok {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil || fi.Size() != a.Size {
		return false
	}
	return true
}

// Record hashes the finished artifact at path, adds it to the ledger and
// saves the manifest atomically. Call it only after the artifact is
// fully written.
func (m *Manifest) Record(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("footprint: recording artifact %s: %v", path, err)
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("footprint: hashing artifact %s: %v", path, err)
	}
	m.mx.Lock()
	m.Artifacts[m.rel(path)] = Artifact{
		Path:      m.rel(path),
		Size:      size,
		SHA256:    fmt.Sprintf("%x", h.Sum(nil)),
		Completed: time.Now().UTC(),
	}
	m.mx.Unlock()
	return m.save()
}

// Forget drops an artifact from the ledger, forcing its stage to run
// again.
func (m *Manifest) Forget(path string) error {
	m.mx.Lock()
	delete(m.Artifacts, m.rel(path))
	m.mx.Unlock()
	return m.save()
}

// save writes the manifest through a temp file and a rename so a crash
// never leaves a truncated ledger.
func (m *Manifest) save() error {
	m.mx.Lock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mx.Unlock()
	if err != nil {
		return fmt.Errorf("footprint: encoding manifest: %v", err)
	}
	tmp, err := ioutil.TempFile(m.dir, manifestName+".*")
	if err != nil {
		return fmt.Errorf("footprint: writing manifest: %v", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("footprint: writing manifest: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("footprint: writing manifest: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("footprint: writing manifest: %v", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("footprint: writing manifest: %v", err)
	}
	return nil
}
