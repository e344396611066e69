package vision

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestFrameWithDetectionsSealed(t *testing.T) {
	f := &Frame{SourceID: "Cam-01", Seq: 1, CaptureTime: time.Now(), Metadata: map[string]any{"k": 1}}
	dets := []Detection{{Label: "person", Confidence: 0.9, Attributes: map[string]any{"has_weapon": false}}}

	out, err := f.WithDetections(dets)
	if err != nil {
		t.Fatal(err)
	}
	if f.Annotated() {
		t.Fatal("source frame must stay untouched")
	}
	if !out.CaptureTime.Equal(f.CaptureTime) {
		t.Fatal("capture time changed")
	}

	// 修改入参不影响帧内数据
	dets[0].Attributes["has_weapon"] = true
	if got := out.Detections()[0].Attributes["has_weapon"]; got != false {
		t.Fatalf("detections not copied, got %v", got)
	}

	if _, err := out.WithDetections(nil); !errors.Is(err, ErrDetectionsSealed) {
		t.Fatalf("expect ErrDetectionsSealed, got %v", err)
	}
}

func TestDetectionValidate(t *testing.T) {
	cases := []struct {
		name string
		in   Detection
		ok   bool
	}{
		{"valid", Detection{Label: "person", Confidence: 0.5}, true},
		{"zero", Detection{Label: "person", Confidence: 0}, true},
		{"one", Detection{Label: "person", Confidence: 1}, true},
		{"negative", Detection{Label: "person", Confidence: -0.1}, false},
		{"above", Detection{Label: "person", Confidence: 1.01}, false},
		{"nan", Detection{Label: "person", Confidence: math.NaN()}, false},
		{"no label", Detection{Confidence: 0.3}, false},
		{"negative box", Detection{Label: "car", Confidence: 0.3, Box: BBox{W: -1}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("Validate() = %v", err)
			}
			if err != nil && !errors.Is(err, ErrInference) {
				t.Fatalf("expect ErrInference, got %v", err)
			}
		})
	}
}

func TestBBoxClamp(t *testing.T) {
	b := BBox{X: -10, Y: 20, W: 100, H: 500}.Clamp(64, 48)
	if !b.Within(64, 48) {
		t.Fatalf("clamped box out of bounds: %+v", b)
	}
	if b != (BBox{X: 0, Y: 20, W: 64, H: 28}) {
		t.Fatalf("unexpected clamp result %+v", b)
	}

	outside := BBox{X: 100, Y: 100, W: 10, H: 10}.Clamp(64, 48)
	if outside.Area() != 0 || !outside.Within(64, 48) {
		t.Fatalf("box outside frame should collapse, got %+v", outside)
	}
}

func TestBBoxIntersects(t *testing.T) {
	zone := BBox{X: 0, Y: 0, W: 100, H: 100}
	if !zone.Intersects(BBox{X: 90, Y: 90, W: 20, H: 20}) {
		t.Fatal("expect overlap")
	}
	if zone.Intersects(BBox{X: 100, Y: 0, W: 20, H: 20}) {
		t.Fatal("touching edges do not overlap")
	}
}

func TestParseAlertKind(t *testing.T) {
	if k, err := ParseAlertKind("WEAPON_DETECTED"); err != nil || k != AlertWeaponDetected {
		t.Fatalf("ParseAlertKind() = %v, %v", k, err)
	}
	if _, err := ParseAlertKind("weapon"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expect ErrConfiguration, got %v", err)
	}
}
