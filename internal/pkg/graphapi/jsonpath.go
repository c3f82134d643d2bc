package graphapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

type stepKind int

const (
	stepKey stepKind = iota
	stepIndex
	stepWildcard
)

type step struct {
	kind  stepKind
	key   string
	index int
}

// Path is a compiled JSON path expression, supporting the subset used for Graph API
// responses:
//
//	$                  the document root
//	$.a.b              object members (also $['a'] or $["a"])
//	$.a[0], $.a[-1]    array elements
//	$.a[*], $.a.*      all array elements or object member values
//
// Evaluation is done with gjson on the raw response body.
type Path struct {
	expr  string
	steps []step
}

// CompilePath parses a JSON path expression.
func CompilePath(expr string) (*Path, error) {
	p := &Path{expr: expr}
	if !strings.HasPrefix(expr, "$") {
		return nil, fmt.Errorf("%w: %q must start with '$'", ErrInvalidJSONPath, expr)
	}

	rest := expr[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			name := rest[:end]
			if name == "" {
				return nil, fmt.Errorf("%w: %q has an empty member name", ErrInvalidJSONPath, expr)
			}
			if name == "*" {
				p.steps = append(p.steps, step{kind: stepWildcard})
			} else {
				p.steps = append(p.steps, step{kind: stepKey, key: name})
			}
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: %q has an unterminated '['", ErrInvalidJSONPath, expr)
			}
			s, err := parseBracket(rest[1:end])
			if err != nil {
				return nil, fmt.Errorf("%w: %q, %v", ErrInvalidJSONPath, expr, err)
			}
			p.steps = append(p.steps, s)
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("%w: %q has unexpected character %q", ErrInvalidJSONPath, expr, rest[0])
		}
	}
	return p, nil
}

// MustCompilePath is like CompilePath but panics on invalid expressions. It is meant
// for package level path constants.
func MustCompilePath(expr string) *Path {
	p, err := CompilePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func parseBracket(content string) (step, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "*":
		return step{kind: stepWildcard}, nil
	case len(content) >= 2 && (content[0] == '\'' || content[0] == '"') && content[len(content)-1] == content[0]:
		return step{kind: stepKey, key: content[1 : len(content)-1]}, nil
	default:
		i, err := strconv.Atoi(content)
		if err != nil {
			return step{}, fmt.Errorf("unsupported bracket expression [%s]", content)
		}
		return step{kind: stepIndex, index: i}, nil
	}
}

func (p *Path) String() string {
	return p.expr
}

// Find returns all matches in document order. Invalid JSON gives no matches; callers
// needing to tell the difference should check the body with gjson.ValidBytes first.
func (p *Path) Find(body []byte) []gjson.Result {
	current := []gjson.Result{gjson.ParseBytes(body)}

	for _, s := range p.steps {
		var next []gjson.Result
		for _, r := range current {
			switch s.kind {
			case stepKey:
				if r.IsObject() {
					if v := r.Get(escapeKey(s.key)); v.Exists() {
						next = append(next, v)
					}
				}
			case stepIndex:
				if r.IsArray() {
					items := r.Array()
					i := s.index
					if i < 0 {
						i += len(items)
					}
					if i >= 0 && i < len(items) {
						next = append(next, items[i])
					}
				}
			case stepWildcard:
				if r.IsArray() || r.IsObject() {
					r.ForEach(func(_, value gjson.Result) bool {
						next = append(next, value)
						return true
					})
				}
			}
		}
		current = next
		if len(current) == 0 {
			break
		}
	}

	if len(current) == 1 && !current[0].Exists() {
		return nil
	}
	return current
}

// First returns the first match, if any.
func (p *Path) First(body []byte) (gjson.Result, bool) {
	matches := p.Find(body)
	if len(matches) == 0 {
		return gjson.Result{}, false
	}
	return matches[0], true
}

// gjson treats a backslash-escaped character literally, which is what we want for member
// names containing path syntax.
func escapeKey(key string) string {
	var sb strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '!', '\\', '=', '<', '>', '%', ':', ',':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
