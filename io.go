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
	"compress/gzip"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/cdf"
)

// Rasters are persisted as single-variable NetCDF grids. Completed stage
// outputs are stored gzip-compressed (suffix ".gz"); uncompressed files
// are transient scratch only.

const rasterVar = "data"

// WriteRaster writes r to path as an uncompressed NetCDF file. The file
// is written to a temporary name in the same directory and atomically
// renamed into place, so a crash mid-write never leaves a partial file
// at path.
func WriteRaster(path string, r *Raster) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("footprint: creating directory for %s: %v", path, err)
	}
	tmp, err := ioutil.TempFile(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("footprint: creating temporary raster file: %v", err)
	}
	defer os.Remove(tmp.Name())
	if err := encodeRaster(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("footprint: writing raster %s: %v", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("footprint: syncing raster %s: %v", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("footprint: closing raster %s: %v", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("footprint: renaming raster into place: %v", err)
	}
	return nil
}

// ReadRaster reads a raster written by WriteRaster or CompressRaster.
// Files with a ".gz" suffix are decompressed into memory first.
func ReadRaster(path string) (*Raster, error) {
	if strings.HasSuffix(path, ".gz") {
		b, err := readGzip(path)
		if err != nil {
			return nil, err
		}
		return decodeRaster(&memFile{buf: b}, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("footprint: opening raster: %v", err)
	}
	defer f.Close()
	return decodeRaster(f, path)
}

// CompressRaster copies the uncompressed raster at src to a
// gzip-compressed file at dst (atomically) and verifies that the copy
// can be read back before returning. The caller may remove src only
// after CompressRaster returns without error.
func CompressRaster(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("footprint: opening raster to compress: %v", err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("footprint: creating directory for %s: %v", dst, err)
	}
	tmp, err := ioutil.TempFile(filepath.Dir(dst), filepath.Base(dst)+".tmp")
	if err != nil {
		return fmt.Errorf("footprint: creating temporary compressed file: %v", err)
	}
	defer os.Remove(tmp.Name())
	zw := gzip.NewWriter(tmp)
	if _, err := io.Copy(zw, in); err != nil {
		tmp.Close()
		return fmt.Errorf("footprint: compressing %s: %v", src, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("footprint: compressing %s: %v", src, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("footprint: syncing %s: %v", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("footprint: closing %s: %v", dst, err)
	}
	// Verify the compressed copy is complete and readable before it can
	// replace the uncompressed version.
	b, err := readGzipFile(tmp.Name())
	if err != nil {
		return fmt.Errorf("footprint: verifying compressed raster %s: %v", dst, err)
	}
	if _, err := cdf.Open(&memFile{buf: b}); err != nil {
		return fmt.Errorf("footprint: verifying compressed raster %s: %v", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("footprint: renaming compressed raster into place: %v", err)
	}
	return nil
}

func readGzip(path string) ([]byte, error) {
	b, err := readGzipFile(path)
	if err != nil {
		return nil, fmt.Errorf("footprint: reading compressed raster %s: %v", path, err)
	}
	return b, nil
}

func readGzipFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return ioutil.ReadAll(zr)
}

func encodeRaster(w cdf.ReaderWriterAt, r *Raster) error {
	h := cdf.NewHeader([]string{"y", "x"}, []int{r.Grid.Ny, r.Grid.Nx})
	h.AddVariable(rasterVar, []string{"y", "x"}, []float64{0.})
	h.AddAttribute(rasterVar, "x0", []float64{r.Grid.X0})
	h.AddAttribute(rasterVar, "y0", []float64{r.Grid.Y0})
	h.AddAttribute(rasterVar, "dx", []float64{r.Grid.Dx})
	h.AddAttribute(rasterVar, "dy", []float64{r.Grid.Dy})
	h.AddAttribute(rasterVar, "nodata", []float64{r.NoData})
	h.AddAttribute(rasterVar, "proj4", r.Grid.Proj4)
	h.Define()
	for _, err := range h.Check() {
		return err
	}
	f, err := cdf.Create(w, h)
	if err != nil {
		return err
	}
	wr := f.Writer(rasterVar, []int{0, 0}, []int{r.Grid.Ny, r.Grid.Nx})
	if _, err := wr.Write(r.Data.Elements); err != nil {
		return err
	}
	return nil
}

func decodeRaster(rw cdf.ReaderWriterAt, path string) (*Raster, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("footprint: opening raster %s: %v", path, err)
	}
	lens := f.Header.Lengths(rasterVar)
	if len(lens) != 2 {
		return nil, fmt.Errorf("footprint: raster %s: variable %q must have 2 dimensions, has %d", path, rasterVar, len(lens))
	}
	ny, nx := lens[0], lens[1]
	attr := func(name string) (float64, error) {
		return attributeFloat(f.Header.GetAttribute(rasterVar, name), path, name)
	}
	x0, err := attr("x0")
	if err != nil {
		return nil, err
	}
	y0, err := attr("y0")
	if err != nil {
		return nil, err
	}
	dx, err := attr("dx")
	if err != nil {
		return nil, err
	}
	dy, err := attr("dy")
	if err != nil {
		return nil, err
	}
	nodata, err := attr("nodata")
	if err != nil {
		return nil, err
	}
	proj4, ok := f.Header.GetAttribute(rasterVar, "proj4").(string)
	if !ok || proj4 == "" {
		return nil, fmt.Errorf("footprint: raster %s has no projection attribute", path)
	}
	grid, err := NewGridDef(nx, ny, dx, dy, x0, y0, proj4)
	if err != nil {
		return nil, fmt.Errorf("footprint: raster %s: %v", path, err)
	}
	r := NewRaster(grid)
	r.NoData = nodata
	rr := f.Reader(rasterVar, nil, nil)
	buf := rr.Zero(-1)
	if _, err := rr.Read(buf); err != nil {
		return nil, fmt.Errorf("footprint: reading raster %s: %v", path, err)
	}
	vals, ok := buf.([]float64)
	if !ok {
		return nil, fmt.Errorf("footprint: raster %s: unexpected data type %T", path, buf)
	}
	copy(r.Data.Elements, vals)
	return r, nil
}

func attributeFloat(a interface{}, path, name string) (float64, error) {
	switch v := a.(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], nil
		}
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("footprint: raster %s is missing georeferencing attribute %q", path, name)
}

// memFile adapts an in-memory buffer to the cdf.ReaderWriterAt interface
// so that gunzipped rasters can be decoded without a scratch file.
type memFile struct {
	buf []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if need := off + int64(len(p)); need > int64(len(m.buf)) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	return copy(m.buf[off:], p), nil
}
