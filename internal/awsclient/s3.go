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
	"context"
	"crypto/tls"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

// S3Target describes which S3-compatible service to talk to and as whom.
// The zero value is the default region with the ambient credentials.
type S3Target struct {
	Region  string
	RoleARN string
	// Endpoint selects an S3-compatible service such as MinIO.
	Endpoint    string
	PathStyle   bool
	InsecureTLS bool
}

func (t S3Target) s3Options(o *s3.Options) {
	if t.Endpoint != "" {
		o.BaseEndpoint = aws.String(t.Endpoint)
	}
	o.UsePathStyle = t.PathStyle
}

func insecureHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &http.Client{Transport: tr}
}

// GetS3 builds an S3 client for the target. Credentials are shared with
// every other client using the same region and role.
func (m *Manager) GetS3(_ context.Context, target S3Target) (*S3Client, error) {
	cfg := m.configFor(target.Region, target.RoleARN)
	if target.InsecureTLS {
		cfg.HTTPClient = insecureHTTPClient()
	}
	return &S3Client{
		Client: s3.NewFromConfig(cfg, target.s3Options),
		Tracer: m.tracer,
	}, nil
}
