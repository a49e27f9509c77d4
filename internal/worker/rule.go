package worker

import "context"

// RowRule is the pluggable business rule a worker applies to each row. Header
// derives the output header from the chunk header; Evaluate transforms one
// row. An Evaluate error is a row-level failure: the row is skipped and
// counted, the chunk carries on.
type RowRule interface {
	Header(input []string) []string
	Evaluate(ctx context.Context, header []string, row []string) ([]string, error)
}

// PassthroughRule copies rows to the output unchanged.
type PassthroughRule struct{}

func (PassthroughRule) Header(input []string) []string { return input }

func (PassthroughRule) Evaluate(_ context.Context, _ []string, row []string) ([]string, error) {
	return row, nil
}
