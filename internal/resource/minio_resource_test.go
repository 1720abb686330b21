package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-service/pkg/config"
)

func TestPublicBase(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com", publicBase("https://cdn.example.com/", config.MinioConfig{Endpoint: "minio:9000"}))
	assert.Equal(t, "http://minio:9000", publicBase("", config.MinioConfig{Endpoint: "minio:9000"}))
	assert.Equal(t, "https://s3.example.com", publicBase("", config.MinioConfig{Endpoint: "s3.example.com", UseSSL: true}))
}

func TestReadPolicyScopesPrefix(t *testing.T) {
	var doc struct {
		Statement []struct {
			Action   []string
			Resource []string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(readPolicy("outreach", "/processed_videos/")), &doc))
	require.Len(t, doc.Statement, 1)
	assert.Equal(t, []string{"s3:GetObject"}, doc.Statement[0].Action)
	assert.Equal(t, []string{"arn:aws:s3:::outreach/processed_videos/*"}, doc.Statement[0].Resource)

	require.NoError(t, json.Unmarshal([]byte(readPolicy("outreach", "")), &doc))
	assert.Equal(t, []string{"arn:aws:s3:::outreach/*"}, doc.Statement[0].Resource)
}
