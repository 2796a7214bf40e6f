package crossforge

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed data/revisions.txt
var defaultRevisions string

// RevisionKind tells how a repository revision is pinned.
type RevisionKind int

const (
	// RevisionFromTable resolves the revision through the revision table.
	RevisionFromTable RevisionKind = iota
	RevisionCommit
	RevisionTag
)

// Revision is the object a repository is reset to.
type Revision struct {
	Kind  RevisionKind
	Value string
}

func Commit(hash string) Revision { return Revision{Kind: RevisionCommit, Value: hash} }
func Tag(tag string) Revision { return Revision{Kind: RevisionTag, Value: tag} }
func FromTable() Revision { return Revision{Kind: RevisionFromTable} }

// RevisionTable maps repository names to pinned revisions.
type RevisionTable map[string]Revision

// ParseRevisionTable reads "name : value" lines. A 40 character hex value is a
// commit, "skip" drops the entry, anything else is a tag.
func ParseRevisionTable(r io.Reader) (RevisionTable, error) {
	table := make(RevisionTable)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("revision table line %d: expected \"name : revision\", got %q", lineNo, line)
		}
		switch {
		case value == "skip":
			continue
		case isCommitHash(value):
			table[name] = Commit(value)
		default:
			table[name] = Tag(value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

// LoadRevisionTable reads the table at path, or the built-in one when path
// is empty.
func LoadRevisionTable(path string) (RevisionTable, error) {
	if path == "" {
		return ParseRevisionTable(strings.NewReader(defaultRevisions))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &PreconditionError{What: "revision table", Path: path, Err: err}
	}
	defer f.Close()
	return ParseRevisionTable(f)
}

// Resolve returns the git object repo should be reset to.
func (t RevisionTable) Resolve(repo Repo) (string, error) {
	if repo.Revision.Kind != RevisionFromTable {
		return repo.Revision.Value, nil
	}
	rev, ok := t[repo.Name]
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrRevisionNotFound, repo.Name)
	}
	return rev.Value, nil
}

// Check resolves every repo up front so a missing entry fails the run
// before any checkout starts.
func (t RevisionTable) Check(repos []Repo) error {
	var errs []error
	for _, r := range repos {
		if _, err := t.Resolve(r); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return NewCompositeError("unresolved repository revisions", errs...)
	}
	return nil
}

func isCommitHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
