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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Transcript format names.
const (
	FormatAWSTranscribe = "aws-transcribe"
	FormatWhisper       = "whisper"
)

// ErrUnknownFormat is returned for JSON that matches no supported engine.
var ErrUnknownFormat = errors.New("unrecognized transcript format")

// Segment is a timed span of speech.
type Segment struct {
	Start   float64 `json:"start_seconds"`
	End     float64 `json:"end_seconds"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the engine-independent form of a transcription result.
type Transcript struct {
	Format   string
	Language string
	Text     string
	Segments []Segment
}

type awsTranscribe struct {
	JobName string `json:"jobName"`
	Results *struct {
		LanguageCode string `json:"language_code"`
		Transcripts  []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		Items []struct {
			StartTime    string `json:"start_time"`
			EndTime      string `json:"end_time"`
			Type         string `json:"type"`
			SpeakerLabel string `json:"speaker_label"`
			Alternatives []struct {
				Content string `json:"content"`
			} `json:"alternatives"`
		} `json:"items"`
		AudioSegments []struct {
			StartTime    string `json:"start_time"`
			EndTime      string `json:"end_time"`
			Transcript   string `json:"transcript"`
			SpeakerLabel string `json:"speaker_label"`
		} `json:"audio_segments"`
	} `json:"results"`
}

type whisperResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

// ParseTranscript decodes an AWS Transcribe or whisper result.
func ParseTranscript(data []byte) (Transcript, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Transcript{}, fmt.Errorf("decoding transcript: %w", err)
	}
	switch {
	case probe["results"] != nil:
		return parseAWS(data)
	case probe["segments"] != nil:
		return parseWhisper(data)
	default:
		return Transcript{}, ErrUnknownFormat
	}
}

func parseAWS(data []byte) (Transcript, error) {
	var raw awsTranscribe
	if err := json.Unmarshal(data, &raw); err != nil {
		return Transcript{}, fmt.Errorf("decoding aws transcript: %w", err)
	}
	if raw.Results == nil {
		return Transcript{}, ErrUnknownFormat
	}
	r := raw.Results
	t := Transcript{Format: FormatAWSTranscribe, Language: r.LanguageCode}
	if len(r.Transcripts) > 0 {
		t.Text = r.Transcripts[0].Transcript
	}

	if len(r.AudioSegments) > 0 {
		for _, s := range r.AudioSegments {
			start, end, err := parseSpan(s.StartTime, s.EndTime)
			if err != nil {
				return Transcript{}, err
			}
			t.Segments = append(t.Segments, Segment{
				Start:   start,
				End:     end,
				Text:    strings.TrimSpace(s.Transcript),
				Speaker: s.SpeakerLabel,
			})
		}
		return t, nil
	}

	// Without audio_segments, build sentences from items. Punctuation items
	// carry no timing and close the current sentence on . ? or !.
	var cur *Segment
	var words []string
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(words, "")
			t.Segments = append(t.Segments, *cur)
		}
		cur, words = nil, nil
	}
	for _, item := range r.Items {
		if len(item.Alternatives) == 0 {
			continue
		}
		content := item.Alternatives[0].Content
		if item.Type == "punctuation" {
			if cur == nil {
				continue
			}
			words = append(words, content)
			if strings.ContainsAny(content, ".?!") {
				flush()
			}
			continue
		}
		start, end, err := parseSpan(item.StartTime, item.EndTime)
		if err != nil {
			return Transcript{}, err
		}
		if cur == nil {
			cur = &Segment{Start: start, Speaker: item.SpeakerLabel}
		} else {
			content = " " + content
		}
		cur.End = end
		words = append(words, content)
	}
	flush()
	return t, nil
}

func parseWhisper(data []byte) (Transcript, error) {
	var raw whisperResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return Transcript{}, fmt.Errorf("decoding whisper transcript: %w", err)
	}
	t := Transcript{Format: FormatWhisper, Language: raw.Language, Text: strings.TrimSpace(raw.Text)}
	texts := make([]string, 0, len(raw.Segments))
	for _, s := range raw.Segments {
		if s.End < s.Start {
			return Transcript{}, fmt.Errorf("segment ends before it starts at %.3fs", s.Start)
		}
		text := strings.TrimSpace(s.Text)
		texts = append(texts, text)
		t.Segments = append(t.Segments, Segment{Start: s.Start, End: s.End, Text: text, Speaker: s.Speaker})
	}
	if t.Text == "" {
		t.Text = strings.Join(texts, " ")
	}
	return t, nil
}

func parseSpan(start, end string) (float64, float64, error) {
	s, err := strconv.ParseFloat(start, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start_time %q: %w", start, err)
	}
	e, err := strconv.ParseFloat(end, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end_time %q: %w", end, err)
	}
	if e < s {
		return 0, 0, fmt.Errorf("segment ends before it starts at %ss", start)
	}
	return s, e, nil
}
