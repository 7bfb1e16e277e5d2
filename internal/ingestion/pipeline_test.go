package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_Run_AllStages(t *testing.T) {
	p := NewPipeline("sync", testLogger())

	var indexed bool

	result, err := p.Run(context.Background(), Stages{
		Fetch: func(_ context.Context) ([]Row, error) {
			return []Row{
				{"code": "72030", "date": "2024-01-04"},
				{"code": "72030", "date": "2024-01-04"},
				{"code": "", "date": "2024-01-04"},
			}, nil
		},
		Normalize: func(rows []Row) []Row {
			for _, row := range rows {
				if code, ok := row["code"].(string); ok && code != "" {
					row["code"] = code[:4]
				}
			}

			return rows
		},
		Validator: NewValidator([]string{"code", "date"}, []string{"code", "date"}, testLogger()),
		Publish: func(_ context.Context, rows []Row) (int, int, error) {
			return len(rows), 0, nil
		},
		Index: func(_ context.Context) error {
			indexed = true

			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 1, result.Validated)
	assert.Equal(t, 1, result.Published)
	assert.Equal(t, 1, result.SkippedMissing)
	assert.Equal(t, 1, result.SkippedDuplicate)
	assert.True(t, result.Indexed)
	assert.True(t, indexed)
}

func TestPipeline_Run_FetchErrorAborts(t *testing.T) {
	p := NewPipeline("sync", testLogger())
	fetchErr := errors.New("upstream down")

	_, err := p.Run(context.Background(), Stages{
		Fetch: func(_ context.Context) ([]Row, error) {
			return nil, fetchErr
		},
		Publish: func(_ context.Context, _ []Row) (int, int, error) {
			t.Fatal("publish must not run after fetch failure")

			return 0, 0, nil
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, fetchErr)
}

func TestPipeline_Run_PublishErrorAbortsBatch(t *testing.T) {
	p := NewPipeline("sync", testLogger())
	publishErr := errors.New("constraint violation")

	result, err := p.Run(context.Background(), Stages{
		Fetch: func(_ context.Context) ([]Row, error) {
			return []Row{{"code": "7203"}}, nil
		},
		Publish: func(_ context.Context, _ []Row) (int, int, error) {
			return 0, 0, publishErr
		},
		Index: func(_ context.Context) error {
			t.Fatal("index must not run after publish failure")

			return nil
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, publishErr)
	assert.False(t, result.Indexed)
}

func TestPipeline_Run_CancelledBeforeFetch(t *testing.T) {
	p := NewPipeline("sync", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, Stages{
		Fetch: func(_ context.Context) ([]Row, error) {
			t.Fatal("fetch must not run on a cancelled context")

			return nil, nil
		},
		Publish: func(_ context.Context, _ []Row) (int, int, error) {
			return 0, 0, nil
		},
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_Run_CancelledBetweenStages(t *testing.T) {
	p := NewPipeline("sync", testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	result, err := p.Run(ctx, Stages{
		Fetch: func(_ context.Context) ([]Row, error) {
			cancel()

			return []Row{{"code": "7203"}}, nil
		},
		Publish: func(_ context.Context, _ []Row) (int, int, error) {
			t.Fatal("publish must not run after cancellation at the stage boundary")

			return 0, 0, nil
		},
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Fetched, "completed stages stay reflected in the result")
}

func TestPipeline_Run_RequiresFetchAndPublish(t *testing.T) {
	p := NewPipeline("sync", testLogger())

	_, err := p.Run(context.Background(), Stages{
		Publish: func(_ context.Context, _ []Row) (int, int, error) {
			return 0, 0, nil
		},
	})
	assert.ErrorIs(t, err, ErrMissingFetchStage)

	_, err = p.Run(context.Background(), Stages{
		Fetch: func(_ context.Context) ([]Row, error) {
			return nil, nil
		},
	})
	assert.ErrorIs(t, err, ErrMissingPublishStage)
}

func TestPipeline_Run_OptionalStagesSkipped(t *testing.T) {
	p := NewPipeline("minimal", testLogger())

	result, err := p.Run(context.Background(), Stages{
		Fetch: func(_ context.Context) ([]Row, error) {
			return []Row{{"a": 1}, {"b": 2}}, nil
		},
		Publish: func(_ context.Context, rows []Row) (int, int, error) {
			return len(rows), 0, nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Validated)
	assert.Equal(t, 2, result.Published)
	assert.False(t, result.Indexed)
}
