package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/models"
)

type captureUploader struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (u *captureUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.input = input
	b, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.body = b
	return &manager.UploadOutput{}, nil
}

func TestResultsKey(t *testing.T) {
	assert.Equal(t, "results/E1/S1.json", ResultsKey("E1", "S1"))
}

func TestArchiveResults(t *testing.T) {
	up := &captureUploader{}
	s := NewS3WithUploader(up, S3Config{ResultsBucket: "archive"}, zap.NewNop())
	results := &models.ResultsSnapshot{
		SessionID:     "S1",
		Status:        models.SessionEnded,
		TotalVotes:    2,
		AverageRating: 4.5,
		Distribution:  map[int]int{1: 0, 2: 0, 3: 0, 4: 1, 5: 1},
	}

	key, err := s.ArchiveResults(context.Background(), "E1", results)
	require.NoError(t, err)
	assert.Equal(t, "results/E1/S1.json", key)
	assert.Equal(t, "archive", aws.ToString(up.input.Bucket))
	assert.Equal(t, "application/json", aws.ToString(up.input.ContentType))

	var got models.ResultsSnapshot
	require.NoError(t, json.Unmarshal(up.body, &got))
	assert.Equal(t, 2, got.TotalVotes)
	assert.Equal(t, 1, got.Distribution[5])
}

func TestArchiveResultsUploadError(t *testing.T) {
	s := NewS3WithUploader(&captureUploader{err: errors.New("access denied")}, S3Config{ResultsBucket: "archive"}, zap.NewNop())
	_, err := s.ArchiveResults(context.Background(), "E1", &models.ResultsSnapshot{SessionID: "S1"})
	assert.ErrorContains(t, err, "access denied")
}
