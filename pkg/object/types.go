// Package object holds the content-addressed object model: blobs, tree
// listings and commits, their encodings, and the loose-object Store that
// projections, lens outputs and cache entries are written to.
package object

// Hash is a lowercase hex SHA-256 object name.
type Hash string

// ObjectType is the type recorded in an object's envelope.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

// Tree entry modes, spelled as git spells them so trees export cleanly.
const (
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
)

// Blob is file content.
type Blob struct {
	Data []byte
}

// TreeEntry is one name in a tree listing. Hash names a tree when Mode is
// TreeModeDir and a blob otherwise.
type TreeEntry struct {
	Name string
	Mode string
	Hash Hash
}

func (e TreeEntry) IsDir() bool { return e.Mode == TreeModeDir }

// TreeObj is a directory listing. Encoding sorts entries by name.
type TreeObj struct {
	Entries []TreeEntry
}

// CommitObj records a tree with its history. Projections commit their
// output trees so a destination ref accumulates first-parent history.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    string
	Timestamp int64
	Signature string
	Message   string
}
