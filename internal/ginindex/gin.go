// Package ginindex implements the inverted index over JSONB columns:
// every scalar leaf reached under any object/array path is tokenized
// into a (path, leaf-value) pair, and each token maps to a posting list
// of row-ids.
package ginindex

import (
	"fmt"
	"sort"

	"github.com/reactivedb/reactivedb/internal/postinglist"
	"github.com/reactivedb/reactivedb/internal/value"
)

// Token is one (path, leaf-value) pair extracted from a JSONB document.
// Path uses "$.field" / "$.field[0]" style segments, the same
// accepted-as-opaque path strings the JSONB expression layer takes.
type Token struct {
	Path string
	Leaf value.Value
}

func (t Token) key() string {
	return t.Path + "\x00" + t.Leaf.Kind().String() + "\x00" + t.Leaf.String()
}

// Index maps tokens to posting lists. Paths, when non-empty, restricts
// which paths are tokenized on insert (an IndexDef.Paths narrowing); a nil
// Paths value tokenizes every path reachable in the document.
type Index struct {
	Paths   []string
	byToken map[string]*postinglist.List
}

// New returns an empty GIN index, optionally restricted to paths.
func New(paths []string) *Index {
	return &Index{Paths: paths, byToken: make(map[string]*postinglist.List)}
}

func (idx *Index) pathAllowed(path string) bool {
	if len(idx.Paths) == 0 {
		return true
	}
	for _, p := range idx.Paths {
		if p == path {
			return true
		}
	}
	return false
}

// Tokenize walks a JSONB value and emits one token per scalar leaf,
// descending into every array element and object key.
func Tokenize(root string, v *value.Jsonb) []Token {
	var out []Token
	var walk func(path string, j *value.Jsonb)
	walk = func(path string, j *value.Jsonb) {
		if j == nil {
			return
		}
		switch j.JKind {
		case value.JsonNull:
			out = append(out, Token{Path: path, Leaf: value.Null()})
		case value.JsonBool:
			out = append(out, Token{Path: path, Leaf: value.Bool(j.B)})
		case value.JsonNumber:
			out = append(out, Token{Path: path, Leaf: value.Float64(j.N)})
		case value.JsonString:
			out = append(out, Token{Path: path, Leaf: value.String(j.S)})
		case value.JsonArray:
			for i, elem := range j.Arr {
				childPath := fmt.Sprintf("%s[%d]", path, i)
				if ej, ok := elem.AsJsonb(); ok {
					walk(childPath, ej)
				} else {
					out = append(out, Token{Path: childPath, Leaf: elem})
				}
			}
		case value.JsonObjectKind:
			if j.Obj == nil {
				return
			}
			for _, key := range j.Obj.Keys() {
				v, _ := j.Obj.Get(key)
				childPath := path + "." + key
				if ej, ok := v.AsJsonb(); ok {
					walk(childPath, ej)
				} else {
					out = append(out, Token{Path: childPath, Leaf: v})
				}
			}
		}
	}
	walk(root, v)
	return out
}

// Insert tokenizes doc and adds rowID to every allowed token's posting
// list.
func (idx *Index) Insert(rowID int64, doc *value.Jsonb) {
	for _, tok := range Tokenize("$", doc) {
		if !idx.pathAllowed(tok.Path) {
			continue
		}
		idx.addToken(tok, rowID)
	}
}

// Remove tokenizes doc and removes rowID from every token's posting list,
// the inverse of Insert, used for delete and as the "old" half of update
// maintenance.
func (idx *Index) Remove(rowID int64, doc *value.Jsonb) {
	for _, tok := range Tokenize("$", doc) {
		if l, ok := idx.byToken[tok.key()]; ok {
			l.Remove(rowID)
			if l.Len() == 0 {
				delete(idx.byToken, tok.key())
			}
		}
	}
}

// Update diffs the old and new token sets for rowID and applies only the
// delta rather than retokenizing and replacing the whole posting set.
func (idx *Index) Update(rowID int64, oldDoc, newDoc *value.Jsonb) {
	oldToks := tokenSet(Tokenize("$", oldDoc))
	newToks := tokenSet(Tokenize("$", newDoc))

	for key := range oldToks {
		if _, stillPresent := newToks[key]; !stillPresent {
			if l, ok := idx.byToken[key]; ok {
				l.Remove(rowID)
				if l.Len() == 0 {
					delete(idx.byToken, key)
				}
			}
		}
	}
	for key, tok := range newToks {
		if _, alreadyPresent := oldToks[key]; !alreadyPresent {
			if idx.pathAllowed(tok.Path) {
				idx.addToken(tok, rowID)
			}
		}
	}
}

func tokenSet(toks []Token) map[string]Token {
	out := make(map[string]Token, len(toks))
	for _, t := range toks {
		out[t.key()] = t
	}
	return out
}

func (idx *Index) addToken(tok Token, rowID int64) {
	l, ok := idx.byToken[tok.key()]
	if !ok {
		l = postinglist.New()
		idx.byToken[tok.key()] = l
	}
	l.Add(rowID)
}

// Eq returns row-ids whose document has a leaf at path equal to target.
func (idx *Index) Eq(path string, target value.Value) []int64 {
	tok := Token{Path: path, Leaf: target}
	if l, ok := idx.byToken[tok.key()]; ok {
		return l.ToSlice()
	}
	return nil
}

// EqMulti intersects the posting lists for several (path, value) pairs
// in-index, backing the GIN AND-combination optimizer rule.
func (idx *Index) EqMulti(pairs []Token) []int64 {
	var lists []*postinglist.List
	for _, tok := range pairs {
		l, ok := idx.byToken[tok.key()]
		if !ok {
			return nil // any missing token means an empty intersection
		}
		lists = append(lists, l)
	}
	return postinglist.Intersect(lists...)
}

// Exists returns row-ids whose document has any leaf at path, regardless
// of value.
func (idx *Index) Exists(path string) []int64 {
	var matched []*postinglist.List
	for tokenKey, l := range idx.byToken {
		if tokenPathOf(tokenKey) == path {
			matched = append(matched, l)
		}
	}
	return postinglist.Union(matched...)
}

func tokenPathOf(tokenKey string) string {
	for i := 0; i < len(tokenKey); i++ {
		if tokenKey[i] == 0 {
			return tokenKey[:i]
		}
	}
	return tokenKey
}

// DistinctPaths returns every distinct path currently tokenized, sorted, mainly
// for diagnostics/tests.
func (idx *Index) DistinctPaths() []string {
	seen := make(map[string]struct{})
	for tokenKey := range idx.byToken {
		seen[tokenPathOf(tokenKey)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
