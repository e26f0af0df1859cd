package ring

import "testing"

func TestRing_PushOverflowDropsOldest(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		r.Push(Frame{Keyframe: i == 0, Kind: FrameVideo})
	}
	if r.Count() != 3 {
		t.Fatalf("expected count 3, got %d", r.Count())
	}
}

func TestRing_DrainKeyframeAligned(t *testing.T) {
	r := New(5)
	r.Push(Frame{Kind: FrameVideo, Keyframe: false})
	r.Push(Frame{Kind: FrameVideo, Keyframe: true, PTS: 10})
	r.Push(Frame{Kind: FrameVideo, Keyframe: false, PTS: 20})
	r.Push(Frame{Kind: FrameAudio, Keyframe: false, PTS: 25})

	frames := r.DrainKeyframeAligned()
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames from keyframe on, got %d", len(frames))
	}
	if !frames[0].Keyframe {
		t.Fatalf("expected first drained frame to be the keyframe")
	}
}

func TestRing_DrainKeyframeAlignedNoKeyframe(t *testing.T) {
	r := New(5)
	r.Push(Frame{Kind: FrameVideo, Keyframe: false})
	r.Push(Frame{Kind: FrameVideo, Keyframe: false})

	if frames := r.DrainKeyframeAligned(); frames != nil {
		t.Fatalf("expected nil drain with no buffered keyframe, got %d frames", len(frames))
	}
}

func TestPool_EnableClampsToMax(t *testing.T) {
	p := NewPool()
	p.Enable("cam1", 3600, 30) // would be 108000 frames, clamp to 1800
	r, ok := p.Get("cam1")
	if !ok {
		t.Fatal("expected ring to exist")
	}
	if r.capacity != MaxPrerollFrames {
		t.Fatalf("expected capacity clamped to %d, got %d", MaxPrerollFrames, r.capacity)
	}
}

func TestPool_ZeroPreRollDisables(t *testing.T) {
	p := NewPool()
	p.Enable("cam1", 0, 30)
	if _, ok := p.Get("cam1"); ok {
		t.Fatal("expected no ring for zero pre-roll")
	}
}

func TestPool_Disable(t *testing.T) {
	p := NewPool()
	p.Enable("cam1", 5, 30)
	p.Disable("cam1")
	if _, ok := p.Get("cam1"); ok {
		t.Fatal("expected ring removed after Disable")
	}
}
