package dicom

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// SeriesDirectory is one series of a study: its member files and the
// description read from a representative file.
type SeriesDirectory struct {
	Path        string
	Files       []string
	Description string
	UID         string
}

// Scanner finds the series of a study directory.
type Scanner struct {
	Logger logrus.FieldLogger
}

// ScanSeries scans root with a default scanner.
func ScanSeries(root string) ([]SeriesDirectory, error) {
	s := &Scanner{Logger: logrus.StandardLogger()}
	return s.Scan(root)
}

// Scan lists root recursively and groups files by their parent directory.
// Thumbnails and DICOMDIR index files are ignored. When every file lives in
// a single directory, files are grouped by SeriesInstanceUID rather than
// one group per file; only files without a UID form groups of their own.
func (s *Scanner) Scan(root string) ([]SeriesDirectory, error) {
	groups := make(map[string][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || skipFile(d.Name()) {
			return nil
		}
		dir := filepath.Dir(path)
		groups[dir] = append(groups[dir], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	dirs := make([]string, 0, len(groups))
	for dir := range groups {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	if len(dirs) == 1 {
		files := groups[dirs[0]]
		sort.Strings(files)
		return s.splitFlat(dirs[0], files), nil
	}

	series := make([]SeriesDirectory, 0, len(dirs))
	for _, dir := range dirs {
		files := groups[dir]
		sort.Strings(files)
		sd := SeriesDirectory{Path: dir, Files: files}
		h := s.representative(files)
		if h == nil {
			s.logger().WithField("series", dir).Warn("no readable DICOM file, skipping directory")
			continue
		}
		sd.Description = h.Description()
		sd.UID = h.SeriesUID()
		series = append(series, sd)
	}
	return series, nil
}

// splitFlat reads every file of a single-directory study and groups them by
// series UID in order of first appearance.
func (s *Scanner) splitFlat(dir string, files []string) []SeriesDirectory {
	var series []SeriesDirectory
	index := make(map[string]int)
	for _, f := range files {
		h, err := ReadHeader(f)
		if err != nil {
			s.logger().WithField("file", f).WithError(err).Debug("not a DICOM file")
			continue
		}
		key := h.SeriesUID()
		if key == "" {
			key = "file:" + f
		}
		i, ok := index[key]
		if !ok {
			i = len(series)
			index[key] = i
			series = append(series, SeriesDirectory{
				Path:        dir,
				Description: h.Description(),
				UID:         h.SeriesUID(),
			})
		}
		series[i].Files = append(series[i].Files, f)
	}
	return series
}

func (s *Scanner) representative(files []string) *Header {
	for _, f := range files {
		h, err := ReadHeader(f)
		if err == nil {
			return h
		}
		s.logger().WithField("file", f).WithError(err).Debug("not a DICOM file")
	}
	return nil
}

func (s *Scanner) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

func skipFile(name string) bool {
	if name == "DICOMDIR" {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
