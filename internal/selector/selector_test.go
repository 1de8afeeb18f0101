package selector_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/seantiz/splay/internal/model"
	"github.com/seantiz/splay/internal/selector"
)

func TestHTTPSelectorHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"test_id":"a","file_path":"tests/a_test.php","estimated_duration_ms":1200},
			{"test_id":"b","file_path":"tests/b_test.php","estimated_duration_ms":0}
		]`))
	}))
	defer srv.Close()

	s := selector.NewHTTPSelector(srv.URL)
	tests, err := s.Select(context.Background(), []string{"src/app.php"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(tests) != 2 {
		t.Fatalf("got %d tests, want 2", len(tests))
	}
	if tests[0].ID != "a" || tests[0].EstimatedDurationMS != 1200 {
		t.Errorf("unexpected first test: %+v", tests[0])
	}
}

func TestHTTPSelectorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := selector.NewHTTPSelector(srv.URL)
	_, err := s.Select(context.Background(), nil)
	if !errors.Is(err, selector.ErrSelectorUnavailable) {
		t.Fatalf("err = %v, want ErrSelectorUnavailable", err)
	}
}

func TestHTTPSelectorMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a list"`))
	}))
	defer srv.Close()

	s := selector.NewHTTPSelector(srv.URL)
	_, err := s.Select(context.Background(), nil)
	if !errors.Is(err, selector.ErrSelectorUnavailable) {
		t.Fatalf("err = %v, want ErrSelectorUnavailable", err)
	}
}

func TestHTTPSelectorUnreachable(t *testing.T) {
	s := selector.NewHTTPSelector("http://127.0.0.1:1/select")
	_, err := s.Select(context.Background(), nil)
	if !errors.Is(err, selector.ErrSelectorUnavailable) {
		t.Fatalf("err = %v, want ErrSelectorUnavailable", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		input []model.TestCase
		valid bool
	}{
		{"empty list", nil, true},
		{"ok", []model.TestCase{{ID: "a"}, {ID: "b", EstimatedDurationMS: 5}}, true},
		{"empty id", []model.TestCase{{ID: ""}}, false},
		{"negative duration", []model.TestCase{{ID: "a", EstimatedDurationMS: -1}}, false},
		{"duplicate id", []model.TestCase{{ID: "a"}, {ID: "a"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := selector.Validate(tt.input)
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, selector.ErrSelectorUnavailable) {
				t.Errorf("Validate() = %v, want ErrSelectorUnavailable", err)
			}
		})
	}
}

func TestFileSelector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	manifest := `[{"test_id":"a","file_path":"tests/a_test.php","estimated_duration_ms":100}]`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &selector.FileSelector{Path: path}
	tests, err := s.Select(context.Background(), nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(tests) != 1 || tests[0].ID != "a" {
		t.Fatalf("unexpected tests: %+v", tests)
	}
}

func TestFileSelectorMissingFile(t *testing.T) {
	s := &selector.FileSelector{Path: filepath.Join(t.TempDir(), "nope.json")}
	_, err := s.Select(context.Background(), nil)
	if !errors.Is(err, selector.ErrSelectorUnavailable) {
		t.Fatalf("err = %v, want ErrSelectorUnavailable", err)
	}
}
