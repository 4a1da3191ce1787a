package engine

import (
	"math"
	"time"

	"facesignal/internal/config"
	"facesignal/internal/model"
	"facesignal/internal/personality"
	"facesignal/internal/stats"
)

// Session is the runtime state of one monitoring session. It owns every
// stabilizer, estimator and rolling history and is driven one frame at a
// time.
//
// A Session is not safe for concurrent use; callers serialize access. The
// Engine does this with a per-session mutex. The calibrator's completion
// timer is the only internal goroutine and it touches calibrator state only.
type Session struct {
	id  string
	cfg config.AnalysisConfig

	blink      *BlinkDetector
	emotion    *EmotionStabilizer
	age        *AgeStabilizer
	attention  *AttentionEstimator
	fatigue    *FatigueEstimator
	calibrator *Calibrator
	scorer     DeceptionScorer

	earHistory        *stats.RollingStats
	attentionHistory  *stats.RollingStats
	fatigueHistory    *stats.RollingStats
	blinkRateHistory  *stats.RollingStats
	headMotionHistory *stats.RollingStats
	emotionHistory    *stats.LabelHistory

	frame   model.AnalysisFrame
	profile *model.BigFiveProfile
	frames  int64
}

type SessionOption func(*sessionOptions)

type sessionOptions struct {
	schedule ScheduleFunc
}

// WithScheduler replaces the timer used for calibration completion.
func WithScheduler(fn ScheduleFunc) SessionOption {
	return func(o *sessionOptions) { o.schedule = fn }
}

func NewSession(id string, cfg config.AnalysisConfig, opts ...SessionOption) *Session {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	h := cfg.History
	s := &Session{
		id:                id,
		cfg:               cfg,
		blink:             NewBlinkDetector(cfg.Blink),
		emotion:           NewEmotionStabilizer(cfg.Emotion),
		age:               NewAgeStabilizer(cfg.Age, h.Age),
		attention:         NewAttentionEstimator(cfg.Attention),
		fatigue:           NewFatigueEstimator(cfg.Fatigue),
		calibrator:        NewCalibrator(cfg.Calibration.Duration, o.schedule),
		scorer:            NewDeceptionScorer(cfg.Deception.Weights),
		earHistory:        stats.NewRollingStats(h.EAR),
		attentionHistory:  stats.NewRollingStats(h.Attention),
		fatigueHistory:    stats.NewRollingStats(h.Fatigue),
		blinkRateHistory:  stats.NewRollingStats(h.BlinkRate),
		headMotionHistory: stats.NewRollingStats(h.HeadMotion),
		emotionHistory:    stats.NewLabelHistory(h.Emotion),
	}
	s.frame = s.snapshot(time.Time{}, false, model.HeadPose{})
	return s
}

func (s *Session) ID() string {
	return s.id
}

// AnalyzeFrame runs one frame through the pipeline. A nil face selects the
// documented fallbacks for every estimator; it never fails.
func (s *Session) AnalyzeFrame(ts time.Time, f *model.RawFeatures) model.AnalysisFrame {
	s.frames++
	if f == nil {
		s.attention.Fallback()
		s.fatigue.Fallback()
		s.frame = s.snapshot(ts, false, model.HeadPose{})
		s.frame.Deception = s.ComputeDeceptionEstimate()
		return s.frame
	}

	emotion := s.emotion.Observe(f.EmotionLabel, f.EmotionScore)
	s.emotionHistory.Push(emotion.Label)

	s.age.Observe(EstimateAge(f, s.cfg.Age))
	attention, _ := s.attention.Observe(f)
	motion := HeadMotion(f.HeadPose)
	s.attentionHistory.Push(attention.Level)
	s.headMotionHistory.Push(motion)

	if f.EyesMissing {
		// no eye evidence: the blink window only slides and fatigue falls back
		s.blink.Rate(ts)
		s.fatigue.Fallback()
		s.frame = s.snapshot(ts, true, f.HeadPose)
		s.frame.Deception = s.ComputeDeceptionEstimate()
		return s.frame
	}

	blink := s.blink.Observe(ts, f.EyeAspectRatio, f.MouthAspectRatio)
	s.earHistory.Push(f.EyeAspectRatio)
	fatigue := s.fatigue.Observe(FatigueInput{
		EAR:        f.EyeAspectRatio,
		EARHistory: s.earHistory,
		Blink:      blink,
		Emotion:    emotion.Label,
	})

	s.fatigueHistory.Push(fatigue.Score)
	s.blinkRateHistory.Push(blink.Rate)

	s.calibrator.Add(model.LiveMetrics{
		Attention:         attention.Level,
		BlinkRate:         blink.Rate,
		Fatigue:           fatigue.Score,
		HeadMotion:        motion,
		EmotionVolatility: s.emotionHistory.TransitionRate(),
	})

	s.frame = s.snapshot(ts, true, f.HeadPose)
	s.frame.Deception = s.ComputeDeceptionEstimate()
	return s.frame
}

func (s *Session) snapshot(ts time.Time, face bool, pose model.HeadPose) model.AnalysisFrame {
	return model.AnalysisFrame{
		Timestamp:   ts,
		FaceFound:   face,
		Emotion:     s.emotion.Current(),
		Age:         s.age.Current(),
		Attention:   s.attention.Current(),
		Fatigue:     s.fatigue.Current(),
		HeadPose:    pose,
		Calibrating: s.calibrator.Active(),
	}
}

// HeadMotion is the Euclidean norm of (yaw, pitch, roll).
func HeadMotion(p model.HeadPose) float64 {
	return math.Sqrt(p.Yaw*p.Yaw + p.Pitch*p.Pitch + p.Roll*p.Roll)
}

// LiveMetrics summarizes the rolling histories for deception scoring.
func (s *Session) LiveMetrics() model.LiveMetrics {
	return model.LiveMetrics{
		Attention:         s.attentionHistory.Mean(),
		BlinkRate:         s.blinkRateHistory.Mean(),
		Fatigue:           s.fatigueHistory.Mean(),
		HeadMotion:        s.headMotionHistory.Mean(),
		EmotionVolatility: s.emotionHistory.TransitionRate(),
	}
}

// ComputeDeceptionEstimate scores the current histories against the active
// baseline. Before any face has been seen there is nothing to compare and
// the estimate is 0.
func (s *Session) ComputeDeceptionEstimate() int {
	return s.DeceptionBreakdown().Score
}

func (s *Session) DeceptionBreakdown() DeceptionBreakdown {
	if s.attentionHistory.Len() == 0 {
		return DeceptionBreakdown{DefaultBaseline: s.calibrator.IsDefault()}
	}
	return s.scorer.Breakdown(s.LiveMetrics(), s.calibrator.Baseline())
}

func (s *Session) StartCalibration() error {
	return s.calibrator.Start()
}

func (s *Session) CancelCalibration() error {
	return s.calibrator.Cancel()
}

func (s *Session) Calibrating() bool {
	return s.calibrator.Active()
}

func (s *Session) Baseline() *model.Baseline {
	return s.calibrator.Baseline()
}

func (s *Session) RestoreBaseline(b *model.Baseline) {
	s.calibrator.SetBaseline(b)
}

// OnCalibrated registers the completion callback; see Calibrator.OnComplete.
func (s *Session) OnCalibrated(fn func(*model.Baseline)) {
	s.calibrator.OnComplete(fn)
}

func (s *Session) SubmitPersonalityAnswers(answers []int) (model.BigFiveProfile, error) {
	p, err := personality.Score(answers)
	if err != nil {
		return model.BigFiveProfile{}, err
	}
	s.profile = &p
	return p, nil
}

func (s *Session) Profile() (model.BigFiveProfile, bool) {
	if s.profile == nil {
		return model.BigFiveProfile{}, false
	}
	return *s.profile, true
}

func (s *Session) Frame() model.AnalysisFrame {
	return s.frame
}

func (s *Session) Frames() int64 {
	return s.frames
}

func (s *Session) EmotionVolatility() float64 {
	return s.emotionHistory.TransitionRate()
}

// Reset clears every signal in place. The baseline and profile survive.
func (s *Session) Reset() {
	s.blink.Reset()
	s.emotion.Reset()
	s.age.Reset()
	s.attention.Reset()
	s.fatigue.Reset()
	s.earHistory.Reset()
	s.attentionHistory.Reset()
	s.fatigueHistory.Reset()
	s.blinkRateHistory.Reset()
	s.headMotionHistory.Reset()
	s.emotionHistory.Reset()
	s.frames = 0
	s.frame = s.snapshot(time.Time{}, false, model.HeadPose{})
}
