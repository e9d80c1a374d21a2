package export

import (
	"strings"
	"testing"

	"github.com/shotchain/shotchain-agent/internal/plan"
)

func TestGenerateEDL_SingleClip(t *testing.T) {
	clips := []Clip{{
		Name:       "shot_001",
		MediaPath:  "/projects/demo/video/shot_001.mp4",
		DurationMs: 2000,
	}}

	edl := GenerateEDL(clips, "Run abc12345", 30.0)

	if !strings.Contains(edl, "TITLE: Run abc12345") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  shot_001") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  /projects/demo/video/shot_001.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestGenerateEDL_RecordOffsetAccumulates(t *testing.T) {
	clips := []Clip{
		{Name: "shot_001", MediaPath: "/a.mp4", DurationMs: 3000},
		{Name: "shot_001_seg2", MediaPath: "/b.mp4", DurationMs: 1500},
	}

	edl := GenerateEDL(clips, "Chained", 30.0)

	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:03:00 00:00:00:00 00:00:03:00") {
		t.Fatalf("first event line mismatch: %q", edl)
	}
	// Second source starts at zero again; only the record side advances.
	if !strings.Contains(edl, "002  AX       V     C        00:00:00:00 00:00:01:15 00:00:03:00 00:00:04:15") {
		t.Fatalf("second event line mismatch or bad record offset: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	clips := []Clip{{Name: "shot", MediaPath: "/x.mp4", DurationMs: 1000}}
	edl := GenerateEDL(clips, "Drop", 29.97)

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestMsToTimecode(t *testing.T) {
	tests := []struct {
		name string
		ms   int
		fps  int
		want string
	}{
		{name: "zero", ms: 0, fps: 24, want: "00:00:00:00"},
		{name: "one second", ms: 1000, fps: 24, want: "00:00:01:00"},
		{name: "half second", ms: 500, fps: 24, want: "00:00:00:12"},
		{name: "one minute", ms: 60000, fps: 24, want: "00:01:00:00"},
		{name: "one hour", ms: 3600000, fps: 24, want: "01:00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := msToTimecode(tc.ms, tc.fps)
			if got != tc.want {
				t.Fatalf("msToTimecode(%d, %d) = %q, want %q", tc.ms, tc.fps, got, tc.want)
			}
		})
	}
}

func TestClipsFromPlan(t *testing.T) {
	p := &plan.GenerationPlan{Segments: []*plan.Segment{
		{
			PlanID:            "001",
			ClipName:          "shot_001",
			EffectiveDuration: 3.0,
			Status:            plan.SegmentStatus{Kind: plan.StatusCompleted},
			OutputFiles:       []string{"/projects/demo/video/shot_001.mp4"},
		},
		{
			PlanID:            "001B",
			ClipName:          "shot_001_seg2",
			EffectiveDuration: 2.0,
			Status:            plan.SegmentStatus{Kind: plan.StatusError, Message: "out of memory"},
		},
		{
			PlanID:   "002",
			ClipName: "shot_002",
			Status:   plan.SegmentStatus{Kind: plan.StatusNoSelection},
		},
	}}

	clips, unresolved := ClipsFromPlan(p)

	if len(clips) != 1 {
		t.Fatalf("expected 1 clip, got %d", len(clips))
	}
	if clips[0].Name != "shot_001" || clips[0].MediaPath != "/projects/demo/video/shot_001.mp4" {
		t.Errorf("unexpected clip: %+v", clips[0])
	}
	if clips[0].DurationMs != 3000 {
		t.Errorf("expected 3000ms duration, got %d", clips[0].DurationMs)
	}
	if len(unresolved) != 2 || unresolved[0] != "001B" || unresolved[1] != "002" {
		t.Errorf("unexpected unresolved list: %v", unresolved)
	}
}
