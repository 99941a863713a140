// ABOUTME: Query parser turning a textual predicate into a DB filter
// ABOUTME: Supports field-qualified tokens and a fuzzy free-text fallback
package mediadb

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// SortKey selects the ordering queue_make applies to matched rows.
type SortKey int

const (
	SortNone SortKey = iota
	SortName
	SortAlbum
)

// Filter is the opaque textual-predicate-turned-SQL-fragment the DB layer
// executes. Where produced this way is intentionally a parameterized
// fragment, not raw user SQL.
type Filter struct {
	Where   string
	Args    []any
	OrderBy string
}

// errEmptyQuery is returned when the predicate has no usable terms.
var errEmptyQuery = fmt.Errorf("mediadb: empty query")

// ParseQuery tokenizes a predicate like `artist:radiohead album:"ok computer"`
// into a Filter. Unqualified tokens are kept as free text and matched
// against the title. ParseQuery itself does no fuzzy ranking: when no field
// qualifiers are present at all, the caller ranks the rows the DB returned
// with RankFreeText (mtoohey31-q's path-fuzzy query mode); field-qualified
// predicates are not ranked.
func ParseQuery(predicate string, sort_ SortKey) (Filter, error) {
	fields, free, err := tokenize(predicate)
	if err != nil {
		return Filter{}, err
	}

	var clauses []string
	var args []any

	for _, f := range fields {
		switch f.field {
		case "artist":
			clauses = append(clauses, fmt.Sprintf("artist ILIKE $%d", len(args)+1))
			args = append(args, "%"+f.value+"%")
		case "album":
			clauses = append(clauses, fmt.Sprintf("album ILIKE $%d", len(args)+1))
			args = append(args, "%"+f.value+"%")
		case "title":
			clauses = append(clauses, fmt.Sprintf("title ILIKE $%d", len(args)+1))
			args = append(args, "%"+f.value+"%")
		default:
			return Filter{}, fmt.Errorf("mediadb: unknown query field %q", f.field)
		}
	}

	if free != "" {
		clauses = append(clauses, fmt.Sprintf("title ILIKE $%d", len(args)+1))
		args = append(args, "%"+free+"%")
	}

	if len(clauses) == 0 {
		return Filter{}, errEmptyQuery
	}

	where := strings.Join(clauses, " AND ")
	if where == "" {
		where = "TRUE"
	}
	where = "disabled = false AND (" + where + ")"

	return Filter{Where: where, Args: args, OrderBy: orderByClause(sort_)}, nil
}

func orderByClause(s SortKey) string {
	switch s {
	case SortName:
		return "title"
	case SortAlbum:
		return "album, track"
	default:
		return "id"
	}
}

type fieldTerm struct{ field, value string }

func tokenize(predicate string) (fields []fieldTerm, free string, err error) {
	// Split on whitespace outside double quotes, so a quoted value stays
	// one token.
	var toks []string
	var cur strings.Builder
	inQuote := false
	for _, r := range predicate + " " {
		if r == '"' {
			inQuote = !inQuote
		}
		if unicode.IsSpace(r) && !inQuote {
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}

	var freeTerms []string
	for _, tok := range toks {
		if idx := strings.Index(tok, ":"); idx > 0 {
			field := strings.ToLower(tok[:idx])
			value := strings.Trim(tok[idx+1:], `"`)
			if value == "" {
				return nil, "", fmt.Errorf("mediadb: empty value for field %q", field)
			}
			fields = append(fields, fieldTerm{field: field, value: value})
			continue
		}
		freeTerms = append(freeTerms, tok)
	}

	return fields, strings.Join(freeTerms, " "), nil
}

// FreeTextQuery reports whether predicate has no field qualifiers at all
// and, if so, returns its free-text portion. Callers use this to decide
// whether a result set is eligible for the fuzzy free-text pre-ranking
// RankFreeText performs, per ParseQuery's field-qualified-predicates-skip-
// ranking rule above.
func FreeTextQuery(predicate string) (text string, ok bool) {
	fields, free, err := tokenize(predicate)
	if err != nil || len(fields) > 0 || free == "" {
		return "", false
	}
	return free, true
}

// RankFreeText orders candidate titles by fuzzy closeness to the free-text
// portion of a query, used by the engine to pre-sort results fetched by a
// field-less predicate before they're inserted into the queue.
func RankFreeText(query string, candidates []string) []string {
	ranks := fuzzy.RankFindNormalizedFold(query, candidates)
	sort.Sort(ranks)
	out := make([]string, len(ranks))
	for i, r := range ranks {
		out[i] = r.Target
	}
	return out
}
