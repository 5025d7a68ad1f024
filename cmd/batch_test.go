package main

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableiq/research-cli/internal/model"
)

func TestReadSeeds_WithHeader(t *testing.T) {
	csv := `url,name,address,email
https://mario.example.com,Mario's Trattoria,"123 Main St, Brooklyn, NY",info@mario.example.com
https://thai.example.com,Thai Garden,,
`
	targets, err := readSeeds(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "https://mario.example.com", targets[0].URL)
	assert.Equal(t, "Mario's Trattoria", targets[0].Name)
	assert.Equal(t, "123 Main St, Brooklyn, NY", targets[0].Address)
	assert.Equal(t, "info@mario.example.com", targets[0].Email)

	assert.Equal(t, "Thai Garden", targets[1].Name)
	assert.Empty(t, targets[1].Address)
}

func TestReadSeeds_NoHeader_URLOnly(t *testing.T) {
	targets, err := readSeeds(strings.NewReader("https://solo.example.com\n"))
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "https://solo.example.com", targets[0].URL)
	assert.Empty(t, targets[0].Name)
}

func TestReadSeeds_SkipsBlankRows(t *testing.T) {
	csv := "url,name\n,skipped\nhttps://kept.example.com,Kept\n"
	targets, err := readSeeds(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "Kept", targets[0].Name)
}

func TestProcessBatch_CountsAndLimit(t *testing.T) {
	targets := []model.Target{
		{URL: "https://a.example.com"},
		{URL: "https://b.example.com"},
		{URL: "https://c.example.com"},
	}

	var calls atomic.Int64
	err := processBatch(context.Background(), targets, 2, 2, func(_ context.Context, target model.Target) (*model.RestaurantRecord, *model.ExtractionMetadata, error) {
		calls.Add(1)
		return model.NewRestaurantRecord(target.URL), &model.ExtractionMetadata{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestProcessBatch_FailureDoesNotAbort(t *testing.T) {
	targets := []model.Target{
		{URL: "https://fails.example.com"},
		{URL: "https://works.example.com"},
	}

	var calls atomic.Int64
	err := processBatch(context.Background(), targets, 0, 1, func(_ context.Context, target model.Target) (*model.RestaurantRecord, *model.ExtractionMetadata, error) {
		calls.Add(1)
		if target.URL == "https://fails.example.com" {
			return nil, nil, eris.New("boom")
		}
		return model.NewRestaurantRecord(target.URL), &model.ExtractionMetadata{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestProcessBatch_Empty(t *testing.T) {
	err := processBatch(context.Background(), nil, 0, 5, func(_ context.Context, _ model.Target) (*model.RestaurantRecord, *model.ExtractionMetadata, error) {
		t.Fatal("extract should not be called")
		return nil, nil, nil
	})
	assert.NoError(t, err)
}
