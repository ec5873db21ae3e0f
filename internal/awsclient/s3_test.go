// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

import (
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3TargetOptions(t *testing.T) {
	var o s3.Options
	S3Target{}.s3Options(&o)
	assert.Nil(t, o.BaseEndpoint)
	assert.False(t, o.UsePathStyle)

	S3Target{Endpoint: "http://minio:9000", PathStyle: true}.s3Options(&o)
	require.NotNil(t, o.BaseEndpoint)
	assert.Equal(t, "http://minio:9000", *o.BaseEndpoint)
	assert.True(t, o.UsePathStyle)
}

func TestInsecureHTTPClient(t *testing.T) {
	tr, ok := insecureHTTPClient().Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
}
