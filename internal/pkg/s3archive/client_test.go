package s3archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePutObject struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutObject) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	return &s3.PutObjectOutput{}, f.err
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{Prefix: "webhooks"}
	at := time.Date(2025, 3, 7, 23, 30, 0, 0, time.FixedZone("x", -2*3600))

	assert.Equal(t, "webhooks/2025/03/08/evt_123.json", cfg.ObjectKey("evt_123", at))
	assert.Equal(t, "webhooks/2025/03/08/hash:abc.json", cfg.ObjectKey("hash:abc", at))
	assert.Equal(t, "2025/03/08/evt_1.json", (&Config{}).ObjectKey("evt_1", at))
}

func TestArchiveWritesPayload(t *testing.T) {
	api := &fakePutObject{}
	c := newClient(api, &Config{BucketName: "bucket", Prefix: "webhooks"}, zap.NewNop())

	err := c.Archive(context.Background(), "evt_1", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "bucket", aws.ToString(api.input.Bucket))
	assert.Equal(t, "webhooks/2025/01/02/evt_1.json", aws.ToString(api.input.Key))
	assert.Equal(t, `{"a":1}`, string(api.body))
}

func TestArchiveWrapsError(t *testing.T) {
	api := &fakePutObject{err: errors.New("denied")}
	c := newClient(api, &Config{BucketName: "bucket"}, zap.NewNop())

	err := c.Archive(context.Background(), "evt_1", time.Now(), []byte(`{}`))
	assert.ErrorContains(t, err, "denied")
}

func TestLoadConfigRequiresCredentialsWhenEnabled(t *testing.T) {
	t.Setenv("S3_ARCHIVE_ENABLED", "true")
	t.Setenv("S3_ACCESS_KEY_ID", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "S3_ACCESS_KEY_ID")
}

func TestLoadConfigDisabledByDefault(t *testing.T) {
	t.Setenv("S3_ARCHIVE_ENABLED", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "webhooks", cfg.Prefix)
}
