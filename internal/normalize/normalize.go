package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"facesignal/internal/config"
	"facesignal/internal/model"
)

// FrameFields is a decoded but not yet validated frame.
type FrameFields struct {
	Timestamp string
	SessionID string
	// Face is nil when the tracker reported no face.
	Face *model.RawFeatures
	Raw  string
}

const (
	maxMouthRatio = 2.0
	maxHeadAngle  = 180.0
)

func Normalize(fields FrameFields, cfg *config.Config) (model.FrameEvent, error) {
	session := strings.TrimSpace(fields.SessionID)
	if session == "" {
		session = cfg.Ingest.Parser.DefaultSessionID
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.FrameEvent{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	return model.FrameEvent{
		Timestamp: ts,
		SessionID: session,
		Face:      Features(fields.Face),
	}, nil
}

// Features returns a sanitized copy of f: non-finite numbers become zero,
// ratios and scores are clamped to their valid ranges.
func Features(f *model.RawFeatures) *model.RawFeatures {
	if f == nil {
		return nil
	}
	out := *f
	if !finite(f.EyeAspectRatio) {
		out.EyesMissing = true
	}
	out.EyeAspectRatio = clamp(out.EyeAspectRatio, 0, 1)
	out.MouthAspectRatio = clamp(out.MouthAspectRatio, 0, maxMouthRatio)
	out.HeadPose = model.HeadPose{
		Yaw:   clamp(f.HeadPose.Yaw, -maxHeadAngle, maxHeadAngle),
		Pitch: clamp(f.HeadPose.Pitch, -maxHeadAngle, maxHeadAngle),
		Roll:  clamp(f.HeadPose.Roll, -maxHeadAngle, maxHeadAngle),
	}
	out.EmotionLabel = strings.TrimSpace(f.EmotionLabel)
	out.EmotionScore = clamp(f.EmotionScore, 0, 1)
	out.Gaze = unitMap(f.Gaze)
	out.Blendshapes = unitMap(f.Blendshapes)
	if f.AgeHint != nil {
		if finite(*f.AgeHint) && *f.AgeHint > 0 {
			v := *f.AgeHint
			out.AgeHint = &v
		} else {
			out.AgeHint = nil
		}
	}
	return &out
}

func unitMap(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = clamp(v, 0, 1)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if !finite(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC3339 variants, unix seconds, unix milliseconds
// and fractional unix seconds as emitted by browser trackers.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	dots := 0
	for _, ch := range value {
		if ch == '.' {
			dots++
			continue
		}
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0 && dots <= 1
}

func parseUnix(value string) (time.Time, error) {
	if strings.Contains(value, ".") {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return time.Time{}, err
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC(), nil
	}
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
