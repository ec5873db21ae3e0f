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

package transcription

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestParseTranscript_AWSAudioSegments(t *testing.T) {
	tr, err := ParseTranscript(readTestdata(t, "aws_segments.json"))
	require.NoError(t, err)
	assert.Equal(t, FormatAWSTranscribe, tr.Format)
	assert.Equal(t, "en-US", tr.Language)
	assert.Equal(t, "Welcome to the demo. Here is the dashboard.", tr.Text)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, Segment{Start: 3, End: 6, Text: "Here is the dashboard.", Speaker: "spk_0"}, tr.Segments[1])
}

func TestParseTranscript_AWSItems(t *testing.T) {
	tr, err := ParseTranscript(readTestdata(t, "aws_items.json"))
	require.NoError(t, err)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, Segment{Start: 0.1, End: 0.9, Text: "Hello there."}, tr.Segments[0])
	assert.Equal(t, Segment{Start: 4.0, End: 4.4, Text: "Bye!"}, tr.Segments[1])
}

func TestParseTranscript_Whisper(t *testing.T) {
	tr, err := ParseTranscript(readTestdata(t, "whisper.json"))
	require.NoError(t, err)
	assert.Equal(t, FormatWhisper, tr.Format)
	assert.Equal(t, "First line. Second line.", tr.Text)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "SPEAKER_01", tr.Segments[1].Speaker)
	assert.Equal(t, "First line.", tr.Segments[0].Text)
}

func TestParseTranscript_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "nope"},
		{"unknown shape", `{"foo": 1}`},
		{"bad time", `{"results": {"audio_segments": [{"start_time": "x", "end_time": "1"}]}}`},
		{"reversed span", `{"segments": [{"start": 3, "end": 1, "text": "a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTranscript([]byte(tt.data))
			assert.Error(t, err)
		})
	}

	_, err := ParseTranscript([]byte(`{"foo": 1}`))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
