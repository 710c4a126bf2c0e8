package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Processor turns one input (a path or URL) into a result
type Processor[T any] interface {
	Process(ctx context.Context, input string) (T, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc[T any] func(ctx context.Context, input string) (T, error)

// Process calls f
func (f ProcessorFunc[T]) Process(ctx context.Context, input string) (T, error) {
	return f(ctx, input)
}

// Item is the outcome for one batch input
type Item[T any] struct {
	Input  string
	Result T
	Error  error
}

// GetError returns the error from the item
func (i *Item[T]) GetError() error {
	return i.Error
}

type batchJob[T any] struct {
	input     string
	processor Processor[T]
}

func (j *batchJob[T]) Execute(ctx context.Context) Result {
	res, err := j.processor.Process(ctx, j.input)
	return &Item[T]{Input: j.input, Result: res, Error: err}
}

// BatchProcessor processes many inputs concurrently
type BatchProcessor[T any] struct {
	processor   Processor[T]
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor[T any](processor Processor[T], concurrency int) *BatchProcessor[T] {
	return &BatchProcessor[T]{
		processor:   processor,
		concurrency: concurrency,
	}
}

// ProcessInputs processes inputs concurrently; items keep input order
func (b *BatchProcessor[T]) ProcessInputs(ctx context.Context, inputs []string) []*Item[T] {
	if len(inputs) == 0 {
		return []*Item[T]{}
	}

	pool := NewPoolWithContext(ctx, b.concurrency)
	pool.Start()

	for _, input := range inputs {
		pool.Submit(&batchJob[T]{input: input, processor: b.processor})
	}

	results := pool.Wait()

	items := make([]*Item[T], len(results))
	for i, result := range results {
		if result == nil {
			items[i] = &Item[T]{Input: inputs[i], Error: ctx.Err()}
			continue
		}
		items[i] = result.(*Item[T])
	}

	return items
}

// ProcessFile reads inputs from a file and processes them concurrently
func (b *BatchProcessor[T]) ProcessFile(ctx context.Context, filePath string) ([]*Item[T], error) {
	inputs, err := ReadInputsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}

	return b.ProcessInputs(ctx, inputs), nil
}

// ReadInputsFromFile reads inputs from a file, one per line. Blank lines and
// # comments are skipped; duplicates are dropped.
func ReadInputsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var inputs []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			inputs = append(inputs, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return inputs, nil
}
