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

package azureclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobTargetResolve(t *testing.T) {
	tests := []struct {
		name    string
		opts    []BlobOption
		want    string
		wantErr bool
	}{
		{
			name: "account only",
			opts: []BlobOption{WithBlobStorageAccount("media")},
			want: "https://media.blob.core.windows.net/",
		},
		{
			name: "endpoint wins",
			opts: []BlobOption{
				WithBlobStorageAccount("media"),
				WithBlobEndpoint("http://127.0.0.1:10000/devstoreaccount1"),
			},
			want: "http://127.0.0.1:10000/devstoreaccount1",
		},
		{
			name:    "neither",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var target blobTarget
			for _, o := range tt.opts {
				o(&target)
			}
			got, err := target.resolve()
			if tt.wantErr {
				assert.ErrorIs(t, err, errNoBlobTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
