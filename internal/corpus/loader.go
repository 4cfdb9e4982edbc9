package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrCorpus is wrapped by every corpus loading failure.
var ErrCorpus = errors.New("corpus error")

// Error describes why a corpus could not be loaded.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("corpus %q: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrCorpus, e.Err}
}

var defaultExtensions = []string{".md", ".markdown", ".txt"}

// LoadOptions tunes corpus discovery.
type LoadOptions struct {
	// Extensions lists accepted file extensions. Defaults to markdown and plain text.
	Extensions []string
}

// Load reads every guidance document under root. Any unreadable or malformed
// document aborts the whole load: a partial corpus is never returned.
func Load(ctx context.Context, root string, opts LoadOptions) ([]Document, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, &Error{Path: root, Err: errors.New("corpus root is not configured")}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, &Error{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Path: root, Err: errors.New("corpus root is not a directory")}
	}

	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &Error{Path: p, Err: walkErr}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if hasExtension(d.Name(), extensions) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		var corpusErr *Error
		if errors.As(err, &corpusErr) {
			return nil, err
		}
		return nil, &Error{Path: root, Err: err}
	}

	docs := make([]Document, 0, len(files))
	for _, file := range files {
		doc, err := loadDocument(root, file)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	for i := range docs {
		if i > 0 && docs[i].Key == docs[i-1].Key {
			return nil, &Error{Path: docs[i].Path, Err: fmt.Errorf("duplicate document key %q", docs[i].Key)}
		}
		docs[i].Order = i
	}

	return docs, nil
}

func loadDocument(root, file string) (Document, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Document{}, &Error{Path: file, Err: err}
	}

	if !utf8.Valid(data) {
		return Document{}, &Error{Path: file, Err: errors.New("document is not valid UTF-8")}
	}

	text := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if text == "" {
		return Document{}, &Error{Path: file, Err: errors.New("document is empty")}
	}

	rel, err := filepath.Rel(root, file)
	if err != nil {
		return Document{}, &Error{Path: file, Err: err}
	}

	key := filepath.ToSlash(rel)
	key = strings.TrimSuffix(key, path.Ext(key))

	return Document{
		Key:      key,
		Path:     file,
		Metadata: ExtractMetadata(key),
		Text:     text,
	}, nil
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
