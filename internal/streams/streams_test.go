package streams

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRuns struct {
	mock.Mock
}

func (m *mockRuns) Complete(ctx context.Context, runID, url string) (*models.VideoRun, error) {
	args := m.Called(ctx, runID, url)
	run, _ := args.Get(0).(*models.VideoRun)
	return run, args.Error(1)
}

func (m *mockRuns) Fail(ctx context.Context, runID, msg string) error {
	return m.Called(ctx, runID, msg).Error(0)
}

func TestHandleVideoResult(t *testing.T) {
	runs := new(mockRuns)
	runs.On("Complete", mock.Anything, "a", "https://cdn.test/a.mp4").
		Return(&models.VideoRun{RunID: "a", Status: models.VideoRunStatusCompleted}, nil).Once()
	runs.On("Fail", mock.Anything, "b", "gpu exploded").Return(nil).Once()

	handle := HandleVideoResult(runs)
	ctx := context.Background()

	require.NoError(t, handle(ctx, VideoResult{RunID: "a", Status: ResultStatusCompleted, VideoURL: "https://cdn.test/a.mp4"}))
	require.NoError(t, handle(ctx, VideoResult{RunID: "b", Status: ResultStatusFailed, Error: "gpu exploded"}))

	err := handle(ctx, VideoResult{RunID: "c", Status: "weird"})
	assert.ErrorIs(t, err, ErrUnknownStatus)

	runs.AssertExpectations(t)
}

func TestHandleVideoResultPropagatesErrors(t *testing.T) {
	runs := new(mockRuns)
	runs.On("Complete", mock.Anything, "a", "").Return(nil, errors.New("db down"))

	err := HandleVideoResult(runs)(context.Background(), VideoResult{RunID: "a", Status: ResultStatusCompleted})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownStatus)
}

func TestMessageRoundTrip(t *testing.T) {
	result := VideoResult{RunID: "run-1", Status: ResultStatusCompleted, VideoURL: "https://cdn.test/v.mp4"}
	values, err := encodeMessage(result, time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), values["published_at"])

	decoded, err := decodeResult(values)
	require.NoError(t, err)
	assert.Equal(t, result, decoded)
}

func TestDecodeResultRejectsBadMessages(t *testing.T) {
	valid, _ := json.Marshal(VideoResult{RunID: "r", Status: ResultStatusFailed})

	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{"missing payload", map[string]interface{}{"schema_version": SchemaVersionV1}},
		{"bad json", map[string]interface{}{"payload": "{"}},
		{"missing run id", map[string]interface{}{"payload": `{"status":"completed"}`}},
		{"future schema", map[string]interface{}{"payload": string(valid), "schema_version": "v2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeResult(tt.values)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}
