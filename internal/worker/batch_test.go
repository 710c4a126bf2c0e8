package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func upper() Processor[string] {
	return ProcessorFunc[string](func(ctx context.Context, input string) (string, error) {
		time.Sleep(time.Millisecond)
		if strings.HasPrefix(input, "bad") {
			return "", errors.New("process error")
		}
		return strings.ToUpper(input), nil
	})
}

func TestBatchProcessor_ProcessInputs(t *testing.T) {
	processor := NewBatchProcessor(upper(), 2)

	items := processor.ProcessInputs(context.Background(), []string{"a.html", "bad.pdf", "c.md"})

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	got := make([]string, len(items))
	for i, it := range items {
		got[i] = it.Input
	}
	if diff := cmp.Diff([]string{"a.html", "bad.pdf", "c.md"}, got); diff != "" {
		t.Errorf("input order mismatch (-want +got):\n%s", diff)
	}
	if items[0].Result != "A.HTML" || items[0].Error != nil {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[1].GetError() == nil {
		t.Error("expected error for bad input")
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	items := NewBatchProcessor(upper(), 2).ProcessInputs(context.Background(), nil)
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
}

func TestReadInputsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.txt")
	content := "# papers\npaper1.html\n\n  paper2.md  \npaper1.html\nhttps://example.com/p3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	inputs, err := ReadInputsFromFile(path)
	if err != nil {
		t.Fatalf("ReadInputsFromFile: %v", err)
	}
	want := []string{"paper1.html", "paper2.md", "https://example.com/p3"}
	if diff := cmp.Diff(want, inputs); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReadInputsFromFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
