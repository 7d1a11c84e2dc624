// Package bootstrap loads the relations to declare when the API starts.
package bootstrap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harvestql/harvestql/internal/relation"
)

// File is the on-disk layout:
//
//	relations:
//	  - name: harvest
//	    arguments:
//	      IMSI: "001010000000001"
//	      LIMIT: "500"
type File struct {
	Relations []Entry `yaml:"relations"`
}

type Entry struct {
	Name      string            `yaml:"name"`
	Arguments map[string]string `yaml:"arguments"`
}

// Declaration is a validated entry with arguments rendered in KEY 'value'
// form, keys sorted.
type Declaration struct {
	Name      string
	Arguments []string
}

func LoadFile(fsys fs.FS, name string) ([]Declaration, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read relations file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Load reads the file at path; a relative path is resolved against the
// working directory.
func Load(path string) ([]Declaration, error) {
	return LoadFile(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}

// Parse decodes and validates a relations document. Unknown fields, duplicate
// names and arguments the relation parser would reject are all errors.
func Parse(r io.Reader) ([]Declaration, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode relations file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Relations))
	out := make([]Declaration, 0, len(file.Relations))
	for i, entry := range file.Relations {
		name := strings.TrimSpace(entry.Name)
		if err := relation.ValidateName(name); err != nil {
			return nil, fmt.Errorf("relations[%d]: %w", i, err)
		}
		// Relation names resolve case-insensitively in SQL.
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("relations[%d]: %w: duplicate relation name %q", i, relation.ErrConfiguration, name)
		}
		seen[key] = struct{}{}

		keys := make([]string, 0, len(entry.Arguments))
		for key := range entry.Arguments {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		args := make([]string, 0, len(keys))
		pairs := make([]relation.Argument, 0, len(keys))
		for _, key := range keys {
			arg := relation.Argument{Key: key, Value: entry.Arguments[key]}
			pairs = append(pairs, arg)
			args = append(args, arg.String())
		}
		// Validation only; defaults are resolved again at creation time.
		if _, err := relation.Parse(pairs, time.Now()); err != nil {
			return nil, fmt.Errorf("relations[%d] %s: %w", i, name, err)
		}
		out = append(out, Declaration{Name: name, Arguments: args})
	}
	return out, nil
}
