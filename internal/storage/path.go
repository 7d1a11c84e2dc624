package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// ExportRoot is the key prefix every relation export lives under.
const ExportRoot = "exports"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath returns exports/<relation>/<instance>/<unix-ms>.parquet.
func BuildExportPath(relationName, instanceID string, at time.Time) (string, error) {
	if err := validatePathComponent(relationName, "relation name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(instanceID, "instance id"); err != nil {
		return "", err
	}
	return path.Join(ExportRoot, relationName, instanceID, fmt.Sprintf("%d.parquet", at.UTC().UnixMilli())), nil
}

// ValidateExportKey accepts only keys produced by BuildExportPath.
func ValidateExportKey(key string) error {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != ExportRoot || !strings.HasSuffix(parts[3], ".parquet") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for i, field := range []string{"relation name", "instance id", "file name"} {
		if err := validatePathComponent(parts[i+1], field); err != nil {
			return err
		}
	}
	return nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || strings.Contains(value, "..") {
		return fmt.Errorf("%w: %s %q", ErrInvalidKey, field, value)
	}
	return nil
}
