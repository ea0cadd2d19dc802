// Package env reads .env files and expands ${VAR} references in
// configuration values.
package env

import (
	"os"
	"path/filepath"
	"strings"
)

// Vars is a set of variables used for expansion.
type Vars map[string]string

// FromOS returns the current process environment.
func FromOS() Vars {
	v := make(Vars)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			v[kv[:i]] = kv[i+1:]
		}
	}
	return v
}

// Fill adds the pairs whose key is not already set.
func (v Vars) Fill(pairs map[string]string) {
	for k, val := range pairs {
		if k == "" {
			continue
		}
		if _, ok := v[k]; !ok {
			v[k] = val
		}
	}
}

// Expand replaces ${NAME} with the value of NAME. References to unknown
// names and unterminated references are left as written. Substituted values
// are not expanded again.
func (v Vars) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if val, ok := v[name]; ok && name != "" {
			b.WriteString(val)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}

// ReadFile parses KEY=VALUE lines. Blank lines and lines starting with #
// are skipped; keys and values are trimmed. Quotes and "export" are not
// interpreted.
func ReadFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			if k := strings.TrimSpace(line[:i]); k != "" {
				m[k] = strings.TrimSpace(line[i+1:])
			}
		}
	}
	return m, nil
}
