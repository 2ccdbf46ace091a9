package pipeline

import "path/filepath"

// FileDocument is a Document backed by a file on disk. An empty Path means
// the document has never been saved.
type FileDocument struct {
	Path  string
	Title string
}

func (d FileDocument) CurrentPath() (string, bool) { return d.Path, d.Path != "" }

// DisplayTitle is Title, or the file name when Title is empty.
func (d FileDocument) DisplayTitle() string {
	if d.Title != "" || d.Path == "" {
		return d.Title
	}
	return filepath.Base(d.Path)
}
