package domain

import "strings"

// Prompt strings reference upstream cells with ${col}. A reference preceded
// by a backslash is preserved literally and the backslash is consumed.
// expandPrompt walks the template once; replace decides what each unescaped
// reference becomes (returning ok=false keeps the reference text untouched).
func expandPrompt(template string, replace func(name string) (string, bool)) string {
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		// Escaped reference: consume the backslash, keep ${name} literally.
		if template[i] == '\\' && i+1 < len(template) && template[i+1] == '$' {
			if end := referenceEnd(template, i+1); end > 0 {
				b.WriteString(template[i+1 : end])
				i = end
				continue
			}
		}
		if template[i] == '$' {
			if end := referenceEnd(template, i); end > 0 {
				name := template[i+2 : end-1]
				if value, ok := replace(name); ok {
					b.WriteString(value)
				} else {
					b.WriteString(template[i:end])
				}
				i = end
				continue
			}
		}
		b.WriteByte(template[i])
		i++
	}
	return b.String()
}

// referenceEnd returns the index one past the closing brace of a ${...}
// reference starting at i, or 0 when there is none.
func referenceEnd(s string, i int) int {
	if i+1 >= len(s) || s[i] != '$' || s[i+1] != '{' {
		return 0
	}
	if j := strings.IndexByte(s[i+2:], '}'); j >= 0 {
		return i + 2 + j + 1
	}
	return 0
}

// ExpandPrompt substitutes each unescaped ${name} reference using the given
// replace function; returning ok=false keeps the reference text untouched.
// Escaped references are unwrapped literally.
func ExpandPrompt(template string, replace func(name string) (string, bool)) string {
	return expandPrompt(template, replace)
}

// PromptReferences extracts the unescaped ${col} references of a prompt, in
// order of first appearance, without duplicates.
func PromptReferences(template string) []string {
	var refs []string
	seen := make(map[string]bool)
	expandPrompt(template, func(name string) (string, bool) {
		if !seen[name] {
			seen[name] = true
			refs = append(refs, name)
		}
		return "", false
	})
	return refs
}

// Interpolate substitutes ${col} references with the stringified cell value
// from the row. References to columns absent from the row are left as-is.
func Interpolate(template string, row Row) string {
	return expandPrompt(template, func(name string) (string, bool) {
		v, ok := row[name]
		if !ok {
			return "", false
		}
		return CellString(v), true
	})
}
