package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Document is a guidance text loaded from the corpus. It is immutable once loaded.
type Document struct {
	// Key is the slash separated path relative to the corpus root, without extension.
	Key string
	// Path is the file the document was read from.
	Path string
	// Order is the position of the document in key order and serves as a stable tie-break.
	Order    int
	Metadata Metadata
	Text     string
}

// Chunk is a retrievable span of a document's text.
type Chunk struct {
	ID       string
	DocKey   string
	DocOrder int
	Seq      int
	Text     string
	Metadata Metadata
}

// ChunkID returns the identifier of the seq-th chunk of a document. Zero padding keeps
// lexical order equal to sequence order.
func ChunkID(docKey string, seq int) string {
	return fmt.Sprintf("%s#%04d", docKey, seq)
}

// Fingerprint identifies the content of a loaded corpus. A persisted index is
// reused only when its fingerprint matches the corpus on disk.
func Fingerprint(docs []Document) string {
	h := sha256.New()
	for _, doc := range docs {
		h.Write([]byte(doc.Key))
		h.Write([]byte{0})
		h.Write([]byte(doc.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
