package deliver

import (
	"encoding/json"
	"testing"

	"github.com/vocero-ai/vocero/pkg/types"
)

func TestChannelKey(t *testing.T) {
	t.Parallel()

	if got := ChannelKey("call-7"); got != "call:results:call-7" {
		t.Fatalf("want call:results:call-7, got %q", got)
	}
}

func TestEnvelopeTranslationRoundTrip(t *testing.T) {
	t.Parallel()

	in := Envelope{
		Kind: KindTranslation,
		Translation: &types.TranslationResult{
			UtteranceID:  "utt-1",
			CallID:       "call-7",
			SpeakerID:    "alice",
			SourceLang:   "he-IL",
			OriginalText: "שלום",
			TimestampMS:  1724500000000,
			Renditions: []types.Rendition{
				{
					TargetLang:   "en-US",
					Text:         "hello",
					Audio:        []byte{1, 2, 3},
					RecipientIDs: []string{"boris"},
					TTSMethod:    types.TTSMethodAPI,
				},
			},
		},
	}

	payload, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Envelope
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.Kind != KindTranslation || out.Translation == nil {
		t.Fatalf("want translation envelope, got %+v", out)
	}
	if out.Control != nil {
		t.Fatal("control payload must be absent")
	}
	tr := out.Translation
	if tr.UtteranceID != "utt-1" || tr.OriginalText != "שלום" {
		t.Fatalf("translation fields mismatch: %+v", tr)
	}
	if len(tr.Renditions) != 1 || tr.Renditions[0].TargetLang != "en-US" {
		t.Fatalf("renditions mismatch: %+v", tr.Renditions)
	}
	if string(tr.Renditions[0].Audio) != string([]byte{1, 2, 3}) {
		t.Fatal("audio payload mismatch")
	}
}

func TestEnvelopeControlRoundTrip(t *testing.T) {
	t.Parallel()

	in := Envelope{
		Kind: KindControl,
		Control: &ControlEvent{
			Event:  EventParticipantLeft,
			CallID: "call-7",
			UserID: "boris",
		},
	}

	payload, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Envelope
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.Kind != KindControl || out.Control == nil {
		t.Fatalf("want control envelope, got %+v", out)
	}
	if out.Translation != nil {
		t.Fatal("translation payload must be absent")
	}
	if out.Control.Event != EventParticipantLeft || out.Control.UserID != "boris" {
		t.Fatalf("control fields mismatch: %+v", out.Control)
	}
}

func TestEnvelopeInterimRoundTrip(t *testing.T) {
	t.Parallel()

	in := Envelope{
		Kind: KindInterim,
		Interim: &InterimEvent{
			CallID:      "call-1",
			UtteranceID: "utt-1",
			SpeakerID:   "alice",
			SourceLang:  "he-IL",
			Text:        "שלום",
			Confidence:  0.91,
			TimestampMS: 1200,
		},
	}

	payload, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Envelope
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.Kind != KindInterim || out.Interim == nil {
		t.Fatalf("want interim envelope, got %+v", out)
	}
	if out.Translation != nil || out.Control != nil {
		t.Fatal("other payloads must be absent")
	}
	if out.Interim.Text != "שלום" || out.Interim.Confidence != 0.91 {
		t.Fatalf("interim fields mismatch: %+v", out.Interim)
	}
}
