package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNoFiles is returned when a response parses but holds no usable files.
var ErrNoFiles = errors.New("response contains no files")

// ParseFileMap extracts a path-to-content map from raw model output. It
// accepts markdown code fences and surrounding prose, and any of these shapes:
//
//	{"files": {"path": "content"}}
//	{"files": [{"path": "path", "content": "content"}]}
//	{"path": "content"}
func ParseFileMap(raw string) (map[string]string, error) {
	// File contents may hold fences of their own, so the unstripped text
	// wins whenever it decodes.
	top, err := decodeObject(strings.TrimSpace(raw))
	if err != nil {
		fenced, ferr := decodeObject(stripFences(raw))
		if ferr != nil {
			return nil, err
		}
		top = fenced
	}

	var files map[string]string
	if inner, ok := top["files"]; ok {
		parsed, err := decodeFiles(inner)
		if err != nil {
			return nil, err
		}
		files = parsed
	} else {
		files = make(map[string]string, len(top))
		for p, v := range top {
			var content string
			if err := json.Unmarshal(v, &content); err != nil {
				return nil, fmt.Errorf("file %q: content is not a string", p)
			}
			files[p] = content
		}
	}

	out := make(map[string]string, len(files))
	for p, content := range files {
		clean := cleanPath(p)
		if clean == "" {
			continue
		}
		out[clean] = content
	}
	if len(out) == 0 {
		return nil, ErrNoFiles
	}
	return out, nil
}

// decodeObject decodes the outermost {...} span of s.
func decodeObject(s string) (map[string]json.RawMessage, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in response")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s[start:end+1]), &top); err != nil {
		return nil, fmt.Errorf("decode JSON object: %w", err)
	}
	return top, nil
}

func decodeFiles(raw json.RawMessage) (map[string]string, error) {
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap, nil
	}
	var asList []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &asList); err != nil {
		return nil, errors.New(`"files" is neither an object of strings nor a list of {path, content}`)
	}
	out := make(map[string]string, len(asList))
	for _, f := range asList {
		out[f.Path] = f.Content
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	rest := s[open+3:]
	// Drop the info string (```json).
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if close := strings.LastIndex(rest, "```"); close >= 0 {
		rest = rest[:close]
	}
	return strings.TrimSpace(rest)
}

// cleanPath normalizes a generated path to a relative slash path. Paths that
// are only separators or dots come back empty.
func cleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return ""
	}
	clean := path.Clean(p)
	if clean == "." || clean == "/" {
		return ""
	}
	return clean
}
