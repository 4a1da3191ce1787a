package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"facesignal/internal/model"
	"facesignal/internal/normalize"
)

var (
	timestampKeys = []string{"timestamp", "time", "ts"}
	sessionKeys   = []string{"session_id", "session", "sid"}
	earKeys       = []string{"ear", "eye_aspect_ratio"}
	marKeys       = []string{"mar", "mouth_aspect_ratio"}
)

func ParseJSONBytes(data []byte) (*normalize.FrameFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj)
}

// ParseJSONMap accepts a nested frame ({"face": {...}}, "face": null for no
// face) or a flat one with the features at the top level.
func ParseJSONMap(obj map[string]interface{}) (*normalize.FrameFields, error) {
	lower := lowerKeys(obj)
	fields := &normalize.FrameFields{
		Timestamp: firstString(lower, timestampKeys...),
		SessionID: firstString(lower, sessionKeys...),
	}
	if present, ok := lower["face_found"]; ok {
		if b, ok := toBool(present); ok && !b {
			return fields, nil
		}
	}
	if raw, ok := lower["face"]; ok {
		if raw == nil {
			return fields, nil
		}
		faceObj, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("face: expected object, got %T", raw)
		}
		face, err := parseFace(lowerKeys(faceObj))
		if err != nil {
			return nil, err
		}
		fields.Face = face
		return fields, nil
	}
	if hasAny(lower, earKeys...) {
		face, err := parseFace(lower)
		if err != nil {
			return nil, err
		}
		fields.Face = face
	}
	return fields, nil
}

func parseFace(m map[string]interface{}) (*model.RawFeatures, error) {
	f := &model.RawFeatures{EyesMissing: !hasAny(m, earKeys...)}
	var err error
	if f.EyeAspectRatio, err = firstFloat(m, earKeys...); err != nil {
		return nil, err
	}
	if f.MouthAspectRatio, err = firstFloat(m, marKeys...); err != nil {
		return nil, err
	}
	pose := m
	if nested, ok := m["head_pose"].(map[string]interface{}); ok {
		pose = lowerKeys(nested)
	}
	if f.HeadPose.Yaw, err = firstFloat(pose, "yaw"); err != nil {
		return nil, err
	}
	if f.HeadPose.Pitch, err = firstFloat(pose, "pitch"); err != nil {
		return nil, err
	}
	if f.HeadPose.Roll, err = firstFloat(pose, "roll"); err != nil {
		return nil, err
	}
	f.EmotionLabel = firstString(m, "emotion", "emotion_label")
	if f.EmotionScore, err = firstFloat(m, "emotion_score", "emotion_confidence"); err != nil {
		return nil, err
	}
	if hasAny(m, "age_hint", "age") {
		v, err := firstFloat(m, "age_hint", "age")
		if err != nil {
			return nil, err
		}
		f.AgeHint = &v
	}
	if f.Gaze, err = floatMap(m["gaze"]); err != nil {
		return nil, fmt.Errorf("gaze: %w", err)
	}
	if f.Blendshapes, err = floatMap(m["blendshapes"]); err != nil {
		return nil, fmt.Errorf("blendshapes: %w", err)
	}
	return f, nil
}

func lowerKeys(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func hasAny(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return true
		}
	}
	return false
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// firstFloat returns 0 when none of the keys is present.
func firstFloat(m map[string]interface{}, keys ...string) (float64, error) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", k, err)
		}
		return f, nil
	}
	return 0, nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func toBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

func floatMap(v interface{}) (map[string]float64, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	out := make(map[string]float64, len(obj))
	for k, raw := range obj {
		f, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}
