package generation

import (
	"encoding/json"
	"strings"

	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

// Extractor turns raw model completions into well-formed JSON objects,
// recovering from the formatting defects models actually produce: markdown
// fences, chatter around the object, comments, trailing commas, smart
// quotes, unescaped quotes and raw newlines inside string values.
type Extractor struct {
	log *logger.Logger
}

func NewExtractor(baseLog *logger.Logger) *Extractor {
	return &Extractor{log: baseLog.With("component", "Extractor")}
}

// Extract applies the repair ladder in order and stops at the first parse
// that succeeds. Already-valid JSON passes through untouched.
func (e *Extractor) Extract(raw string) (map[string]any, error) {
	candidate := stripCodeFences(raw)

	body, trailing, ok := matchTopLevelObject(candidate)
	if !ok {
		return nil, newError(CodeExtractionFailed, "no JSON object found in model output", nil)
	}
	if strings.TrimSpace(trailing) != "" {
		e.log.Debug("Ignoring trailing content after JSON object", "trailing_len", len(trailing))
	}

	// 1) Direct parse.
	if obj, err := parseObject(body); err == nil {
		return obj, nil
	}

	// 2) Comments, trailing commas, smart quotes.
	repaired := stripJSONComments(body)
	repaired = removeTrailingCommas(repaired)
	repaired = normalizeSmartQuotes(repaired)
	if obj, err := parseObject(repaired); err == nil {
		e.log.Warn("Model output required syntactic repair", "stage", "punctuation")
		return obj, nil
	}

	// 3) Unescaped quotes and raw newlines inside string values.
	repaired = repairStringBodies(repaired)
	if obj, err := parseObject(repaired); err == nil {
		e.log.Warn("Model output required syntactic repair", "stage", "string_bodies")
		return obj, nil
	}

	return nil, newError(CodeExtractionFailed, "model output unparseable after repair", nil)
}

// NormalizeFields rewrites recognized camelCase keys to their canonical
// snake_case names, recursively. Each rewrite is logged as a warning but is
// never a failure: usable content beats strict formatting.
func (e *Extractor) NormalizeFields(obj map[string]any) map[string]any {
	out, rewrites := normalizeFieldNames(obj)
	for _, r := range rewrites {
		e.log.Warn("Rewrote non-canonical field name", "from", r.from, "to", r.to)
	}
	return out
}

func parseObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// stripCodeFences removes a surrounding markdown code fence, with or
// without a language tag, and trims whitespace.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag like "json" on the fence line.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		first := strings.TrimSpace(s[:nl])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}") {
			s = s[nl+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// matchTopLevelObject locates the first '{' and its matching '}', counting
// brace depth while skipping braces inside string literals (with escape
// tracking). Returns the object slice and any trailing content.
func matchTopLevelObject(s string) (body string, trailing string, ok bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], s[i+1:], true
			}
		}
	}
	return "", "", false
}

// stripJSONComments removes // line comments and /* */ block comments
// outside string literals.
func stripJSONComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			b.WriteByte(ch)
			continue
		}
		if ch == '/' && i+1 < len(s) {
			if s[i+1] == '/' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					b.WriteByte('\n')
				}
				continue
			}
			if s[i+1] == '*' {
				i += 2
				for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
					i++
				}
				i++
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// removeTrailingCommas drops commas that directly precede a closing brace
// or bracket, outside string literals.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			b.WriteByte(ch)
			continue
		}
		if ch == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

var smartQuoteReplacer = strings.NewReplacer(
	"“", `"`, // left double
	"”", `"`, // right double
	"„", `"`, // low double
	"‘", "'", // left single
	"’", "'", // right single
)

func normalizeSmartQuotes(s string) string {
	return smartQuoteReplacer.Replace(s)
}

// repairStringBodies walks the document and, inside string literals,
// escapes quotes that cannot be string terminators and collapses raw
// newlines into \n escapes. A quote is treated as a terminator only when
// the next non-space character is valid JSON structure.
func repairStringBodies(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !inString {
			if ch == '"' {
				inString = true
			}
			b.WriteByte(ch)
			continue
		}
		if escaped {
			escaped = false
			b.WriteByte(ch)
			continue
		}
		switch ch {
		case '\\':
			escaped = true
			b.WriteByte(ch)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			// swallow; the \n branch emits the escape
		case '"':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
				j++
			}
			if j >= len(s) || s[j] == ',' || s[j] == '}' || s[j] == ']' || s[j] == ':' || s[j] == '\n' || s[j] == '\r' {
				inString = false
				b.WriteByte(ch)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// canonicalFields lists every snake_case schema field the pipeline reads.
// camelCase aliases are derived from these.
var canonicalFields = []string{
	"title",
	"description",
	"overview",
	"target_audience",
	"difficulty",
	"prerequisites",
	"learning_outcomes",
	"tags",
	"assessment_strategy",
	"sections",
	"section_number",
	"objectives",
	"lessons",
	"lesson_number",
	"key_topics",
	"exercises",
	"duration_minutes",
	"type",
}

var fieldAliases = buildFieldAliases()

func buildFieldAliases() map[string]string {
	out := map[string]string{}
	for _, f := range canonicalFields {
		camel := snakeToCamel(f)
		if camel != f {
			out[camel] = f
		}
	}
	return out
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

type fieldRewrite struct {
	from string
	to   string
}

func normalizeFieldNames(obj map[string]any) (map[string]any, []fieldRewrite) {
	var rewrites []fieldRewrite
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		key := k
		if canonical, ok := fieldAliases[k]; ok {
			// An explicit canonical value wins over its alias.
			if _, exists := obj[canonical]; !exists {
				key = canonical
				rewrites = append(rewrites, fieldRewrite{from: k, to: canonical})
			}
		}
		out[key] = normalizeFieldValue(v, &rewrites)
	}
	return out, rewrites
}

func normalizeFieldValue(v any, rewrites *[]fieldRewrite) any {
	switch t := v.(type) {
	case map[string]any:
		m, rw := normalizeFieldNames(t)
		*rewrites = append(*rewrites, rw...)
		return m
	case []any:
		for i := range t {
			t[i] = normalizeFieldValue(t[i], rewrites)
		}
		return t
	default:
		return v
	}
}
