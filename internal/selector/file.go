package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/seantiz/splay/internal/model"
)

// FileSelector reads a committed test manifest from disk, using the same JSON
// shape as the selector service. Useful for single-process runs and local
// debugging without a selector deployment.
type FileSelector struct {
	Path string
}

func (f *FileSelector) Select(_ context.Context, _ []string) ([]model.TestCase, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrSelectorUnavailable, err)
	}

	var tests []model.TestCase
	if err := json.Unmarshal(data, &tests); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrSelectorUnavailable, err)
	}

	if err := Validate(tests); err != nil {
		return nil, err
	}
	return tests, nil
}
