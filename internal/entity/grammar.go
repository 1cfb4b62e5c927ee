package entity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Filesystem naming grammar. The main part of a name (before the first
// ';') carries the kind tag and identifying key; the remaining
// ';'-separated tokens are configuration arguments. This layout is a
// contract other tooling relies on; do not change it casually.
var (
	pageMainRe  = regexp.MustCompile(`^PAGE_(\d+)$`)
	keyMainRe   = regexp.MustCompile(`^KEY_ROW_(\d+)_COL_(\d+)$`)
	imageMainRe = regexp.MustCompile(`^IMAGE$`)
	textMainRe  = regexp.MustCompile(`^TEXT$`)
	eventMainRe = regexp.MustCompile(`^ON_(PRESS|LONGPRESS|RELEASE|START|END)$`)

	argRe = regexp.MustCompile(`^([a-zA-Z][\w.-]*)(?:=(.*))?$`)
)

// DefaultRank is the rank of an IMAGE or TEXT name that carries no
// explicit layer/line argument. When ranked siblings exist alongside a
// default one, the default is ignored during composition.
const DefaultRank = -1

// RefSpec is a filename-derived pointer to another entity.
type RefSpec struct {
	// Page is the referenced page, by number or name. Empty means the
	// observing entity's own page.
	Page string

	// Key is the referenced key, as "row,col" or by name. Empty means
	// same coordinates (key refs) or same holder (content refs).
	Key string
}

func (r RefSpec) String() string {
	return r.Page + ":" + r.Key
}

// ParsedName is the outcome of decomposing a filesystem name for one
// entity kind.
type ParsedName struct {
	Kind Kind

	// Identifying key, by kind.
	Page  int    // KindPage
	Row   int    // KindKey
	Col   int    // KindKey
	Rank  int    // KindImageLayer / KindTextLine
	Event string // KindEvent, lowercased

	// Common arguments.
	Name     string
	Named    bool
	Disabled bool

	// Condition is the compiled when= filter, nil when absent.
	Condition *Condition

	// Ref is the parsed ref= pointer, nil when absent.
	Ref *RefSpec

	// Args holds every key=value argument as seen, flags normalized to
	// "true"/"false".
	Args map[string]string
}

// ParseName decomposes name against the grammar of one kind.
//
// Returns (nil, nil) when the name does not belong to the kind: not an
// entity, silently ignorable. Returns an error when the kind tag and
// identifying key matched but the arguments are invalid; callers log
// the diagnostic and discard the name. The function is total and has
// no side effects.
func ParseName(kind Kind, name string) (*ParsedName, error) {
	main, rest, hasArgs := strings.Cut(name, ";")

	parsed := &ParsedName{Kind: kind, Rank: DefaultRank, Args: make(map[string]string)}

	switch kind {
	case KindPage:
		m := pageMainRe.FindStringSubmatch(main)
		if m == nil {
			return nil, nil
		}
		number, err := strconv.Atoi(m[1])
		if err != nil || number < 1 {
			return nil, nil
		}
		parsed.Page = number

	case KindKey:
		m := keyMainRe.FindStringSubmatch(main)
		if m == nil {
			return nil, nil
		}
		row, errRow := strconv.Atoi(m[1])
		col, errCol := strconv.Atoi(m[2])
		if errRow != nil || errCol != nil || row < 1 || col < 1 {
			return nil, nil
		}
		parsed.Row, parsed.Col = row, col

	case KindImageLayer:
		if !imageMainRe.MatchString(main) {
			return nil, nil
		}

	case KindTextLine:
		if !textMainRe.MatchString(main) {
			return nil, nil
		}

	case KindEvent:
		m := eventMainRe.FindStringSubmatch(main)
		if m == nil {
			return nil, nil
		}
		parsed.Event = strings.ToLower(m[1])

	default:
		return nil, nil
	}

	if !hasArgs {
		return parsed, nil
	}

	for _, part := range strings.Split(rest, ";") {
		m := argRe.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("unparseable argument %q", part)
		}
		key, value := m[1], m[2]
		hasValue := strings.Contains(part, "=")

		switch key {
		case "disabled":
			parsed.Disabled = !hasValue || value == "true"
			parsed.Args[key] = strconv.FormatBool(parsed.Disabled)

		case "name":
			if value == "" {
				return nil, fmt.Errorf("empty name argument")
			}
			parsed.Name = value
			parsed.Named = true
			parsed.Args[key] = value

		case "when":
			cond, err := CompileCondition(value)
			if err != nil {
				return nil, fmt.Errorf("invalid when condition %q: %w", value, err)
			}
			parsed.Condition = cond
			parsed.Args[key] = value

		case "ref":
			ref, err := parseRef(value)
			if err != nil {
				return nil, err
			}
			parsed.Ref = ref
			parsed.Args[key] = value

		case "layer":
			if kind != KindImageLayer {
				parsed.Args[key] = value
				break
			}
			rank, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid layer %q", value)
			}
			parsed.Rank = rank
			parsed.Args[key] = value

		case "line":
			if kind != KindTextLine {
				parsed.Args[key] = value
				break
			}
			rank, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid line %q", value)
			}
			parsed.Rank = rank
			parsed.Args[key] = value

		default:
			// Free-form configuration argument; flags normalize to "true".
			if hasValue {
				parsed.Args[key] = value
			} else {
				parsed.Args[key] = "true"
			}
		}
	}

	return parsed, nil
}

// parseRef parses a ref= pointer: "page:key", "page" or ":key".
func parseRef(value string) (*RefSpec, error) {
	if value == "" {
		return nil, fmt.Errorf("empty ref argument")
	}
	page, key, hasKey := strings.Cut(value, ":")
	ref := &RefSpec{Page: page}
	if hasKey {
		ref.Key = key
	}
	if ref.Page == "" && ref.Key == "" {
		return nil, fmt.Errorf("ref %q points nowhere", value)
	}
	return ref, nil
}

// ComposeName builds a canonical filesystem name for a definition.
// Used by the make-dirs scaffolding; the inverse of ParseName for the
// main part plus ordered common arguments.
func ComposeName(parsed ParsedName) string {
	var main string
	switch parsed.Kind {
	case KindPage:
		main = fmt.Sprintf("PAGE_%d", parsed.Page)
	case KindKey:
		main = fmt.Sprintf("KEY_ROW_%d_COL_%d", parsed.Row, parsed.Col)
	case KindImageLayer:
		main = "IMAGE"
		if parsed.Rank != DefaultRank {
			main += fmt.Sprintf(";layer=%d", parsed.Rank)
		}
	case KindTextLine:
		main = "TEXT"
		if parsed.Rank != DefaultRank {
			main += fmt.Sprintf(";line=%d", parsed.Rank)
		}
	case KindEvent:
		main = "ON_" + strings.ToUpper(parsed.Event)
	}

	if parsed.Named {
		main += ";name=" + parsed.Name
	}
	if parsed.Disabled {
		main += ";disabled"
	}
	return main
}
