package plan

import (
	"os"
	"path/filepath"
	"testing"
)

func writeKeyframe(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatalf("failed to write keyframe: %v", err)
	}
	return path
}

func TestBuild_SegmentCount(t *testing.T) {
	tmpDir := t.TempDir()
	frame := writeKeyframe(t, tmpDir, "kf.png")

	tests := []struct {
		name     string
		duration float64
		maxSeg   float64
		want     int
	}{
		{"shorter than max", 2.5, 3.0, 1},
		{"exactly max", 3.0, 3.0, 1},
		{"just over max", 3.1, 3.0, 2},
		{"multiple segments", 7.0, 3.0, 3},
		{"exact multiple", 6.0, 3.0, 2},
		{"custom max", 10.0, 4.0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tt.maxSeg)
			p := b.Build(
				[]Shot{{ID: "001", Duration: tt.duration}},
				map[string]SelectionEntry{"001": {ShotID: "001", SourcePath: frame}},
			)
			if len(p.Segments) != tt.want {
				t.Errorf("Build() produced %d segments, want %d", len(p.Segments), tt.want)
			}
		})
	}
}

func TestBuild_FirstSegmentReadiness(t *testing.T) {
	tmpDir := t.TempDir()
	frame := writeKeyframe(t, tmpDir, "kf.png")

	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{{ID: "001", Duration: 7.0, Prompt: "a slow pan"}},
		map[string]SelectionEntry{"001": {ShotID: "001", SourcePath: frame}},
	)

	if len(p.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(p.Segments))
	}

	first := p.Segments[0]
	if !first.Ready {
		t.Error("first segment should be ready")
	}
	if first.StartFrameSource != SourceSelection {
		t.Errorf("first segment source = %q, want %q", first.StartFrameSource, SourceSelection)
	}
	if first.StartFrame != frame {
		t.Errorf("first segment start frame = %q, want %q", first.StartFrame, frame)
	}

	for _, seg := range p.Segments[1:] {
		if seg.Ready {
			t.Errorf("segment %s should not start ready", seg.PlanID)
		}
		if seg.StartFrameSource != SourceChainWait {
			t.Errorf("segment %s source = %q, want %q", seg.PlanID, seg.StartFrameSource, SourceChainWait)
		}
		if seg.StartFrame != "" {
			t.Errorf("segment %s should have no start frame yet", seg.PlanID)
		}
	}
}

func TestBuild_PlanIDSuffixes(t *testing.T) {
	tmpDir := t.TempDir()
	frame := writeKeyframe(t, tmpDir, "kf.png")

	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{{ID: "007", Duration: 10.0}},
		map[string]SelectionEntry{"007": {ShotID: "007", SourcePath: frame}},
	)

	want := []string{"007", "007B", "007C", "007D"}
	if len(p.Segments) != len(want) {
		t.Fatalf("got %d segments, want %d", len(p.Segments), len(want))
	}
	for i, seg := range p.Segments {
		if seg.PlanID != want[i] {
			t.Errorf("segment %d plan ID = %q, want %q", i, seg.PlanID, want[i])
		}
		if seg.Index != i+1 {
			t.Errorf("segment %d index = %d, want %d", i, seg.Index, i+1)
		}
		if seg.Total != 4 {
			t.Errorf("segment %d total = %d, want 4", i, seg.Total)
		}
	}
}

func TestBuild_EffectiveDurations(t *testing.T) {
	tmpDir := t.TempDir()
	frame := writeKeyframe(t, tmpDir, "kf.png")

	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{{ID: "001", Duration: 7.0}},
		map[string]SelectionEntry{"001": {ShotID: "001", SourcePath: frame}},
	)

	want := []float64{3.0, 3.0, 1.0}
	for i, seg := range p.Segments {
		if diff := seg.EffectiveDuration - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("segment %d effective duration = %v, want %v", i, seg.EffectiveDuration, want[i])
		}
		if !seg.NeedsExtension {
			t.Errorf("segment %d needs_extension = false, want true", i)
		}
	}
}

func TestBuild_NoSelectionPlaceholder(t *testing.T) {
	b := NewBuilder(3.0)
	p := b.Build([]Shot{{ID: "001", Duration: 7.0}}, map[string]SelectionEntry{})

	if len(p.Segments) != 1 {
		t.Fatalf("got %d segments, want 1 placeholder", len(p.Segments))
	}
	seg := p.Segments[0]
	if seg.Ready {
		t.Error("placeholder should not be ready")
	}
	if seg.Status.Kind != StatusNoSelection {
		t.Errorf("status = %q, want %q", seg.Status.Kind, StatusNoSelection)
	}
	if seg.Total != 3 {
		t.Errorf("placeholder total = %d, want expected segment count 3", seg.Total)
	}
}

func TestBuild_MissingFilePlaceholder(t *testing.T) {
	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{{ID: "001", Duration: 2.0}},
		map[string]SelectionEntry{"001": {ShotID: "001", SourcePath: "/nonexistent/kf.png"}},
	)

	if len(p.Segments) != 1 {
		t.Fatalf("got %d segments, want 1 placeholder", len(p.Segments))
	}
	if p.Segments[0].Status.Kind != StatusFrameMissing {
		t.Errorf("status = %q, want %q", p.Segments[0].Status.Kind, StatusFrameMissing)
	}
}

func TestBuild_MixedShots(t *testing.T) {
	tmpDir := t.TempDir()
	frame1 := writeKeyframe(t, tmpDir, "kf1.png")
	frame2 := writeKeyframe(t, tmpDir, "kf2.png")

	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{
			{ID: "001", Duration: 2.5},
			{ID: "002", Duration: 5.0},
		},
		map[string]SelectionEntry{
			"001": {ShotID: "001", SourcePath: frame1},
			"002": {ShotID: "002", SourcePath: frame2},
		},
	)

	want := []string{"001", "002", "002B"}
	if len(p.Segments) != len(want) {
		t.Fatalf("got %d segments, want %d", len(p.Segments), len(want))
	}
	for i, seg := range p.Segments {
		if seg.PlanID != want[i] {
			t.Errorf("segment %d plan ID = %q, want %q", i, seg.PlanID, want[i])
		}
	}

	if !p.ByPlanID("002").Ready {
		t.Error("segment 002 should be ready")
	}
	second := p.ByPlanID("002B")
	if second.Ready || second.StartFrameSource != SourceChainWait {
		t.Errorf("segment 002B = ready %v source %q, want not ready, chain_wait", second.Ready, second.StartFrameSource)
	}
}

func TestBuild_SelectionPrefersExportPath(t *testing.T) {
	tmpDir := t.TempDir()
	export := writeKeyframe(t, tmpDir, "export.png")

	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{{ID: "001", Duration: 1.0}},
		map[string]SelectionEntry{"001": {ShotID: "001", SourcePath: "/gone/src.png", ExportPath: export}},
	)

	if p.Segments[0].StartFrame != export {
		t.Errorf("start frame = %q, want export path %q", p.Segments[0].StartFrame, export)
	}
}

func TestPlan_Successor(t *testing.T) {
	tmpDir := t.TempDir()
	frame := writeKeyframe(t, tmpDir, "kf.png")

	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{{ID: "001", Duration: 5.0}},
		map[string]SelectionEntry{"001": {ShotID: "001", SourcePath: frame}},
	)

	first := p.ByPlanID("001")
	next := p.Successor(first)
	if next == nil || next.PlanID != "001B" {
		t.Fatalf("Successor(001) = %v, want 001B", next)
	}
	if p.Successor(next) != nil {
		t.Error("Successor of the last segment should be nil")
	}
	if first.IsLast() || !next.IsLast() {
		t.Errorf("IsLast: first = %v, last = %v, want false/true", first.IsLast(), next.IsLast())
	}
}

func TestPlan_ByShot(t *testing.T) {
	tmpDir := t.TempDir()
	frame := writeKeyframe(t, tmpDir, "kf.png")

	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{{ID: "001", Duration: 5.0}, {ID: "002", Duration: 2.0}},
		map[string]SelectionEntry{
			"001": {ShotID: "001", SourcePath: frame},
			"002": {ShotID: "002", SourcePath: frame},
		},
	)

	chain := p.ByShot("001")
	if len(chain) != 2 || chain[0].PlanID != "001" || chain[1].PlanID != "001B" {
		t.Fatalf("ByShot(001) = %v, want the full chain in order", chain)
	}
	if got := p.ByShot("003"); got != nil {
		t.Errorf("ByShot(003) = %v, want nil", got)
	}
}

func TestPlan_CloneIsDeep(t *testing.T) {
	tmpDir := t.TempDir()
	frame := writeKeyframe(t, tmpDir, "kf.png")

	b := NewBuilder(3.0)
	p := b.Build(
		[]Shot{{ID: "001", Duration: 5.0}},
		map[string]SelectionEntry{"001": {ShotID: "001", SourcePath: frame}},
	)

	c := p.Clone()
	c.Segments[0].Status = Errorf("boom")
	c.Segments[0].OutputFiles = append(c.Segments[0].OutputFiles, "clip.mp4")

	if p.Segments[0].Status.Kind != StatusPending {
		t.Error("mutating the clone changed the original status")
	}
	if len(p.Segments[0].OutputFiles) != 0 {
		t.Error("mutating the clone changed the original output files")
	}
}

func TestStatus_WireForm(t *testing.T) {
	tests := []struct {
		status SegmentStatus
		want   string
	}{
		{SegmentStatus{Kind: StatusPending}, "pending"},
		{Errorf("backend exploded"), "error: backend exploded"},
		{SegmentStatus{Kind: StatusNoSelection}, "no_selection"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
