package service

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/noah-isme/gema-eval-api/internal/dto"
)

// Report key prefixes, one per track.
const (
	codingReportPrefix = "code-evaluation"
	textReportPrefix   = "evaluation_report"
	oralReportPrefix   = "oral_evaluation_report"
)

// TextWeights weighs the text-track sub-scores. They should sum to 1.
type TextWeights struct {
	QCM       float64
	Technical float64
	Grammar   float64
}

// OralWeights weighs the oral-track sub-scores. They should sum to 1.
type OralWeights struct {
	Technical float64
	Coherence float64
	Relevance float64
	Clarity   float64
}

// DefaultTextWeights returns the standard text-track weighting.
func DefaultTextWeights() TextWeights {
	return TextWeights{QCM: 0.3, Technical: 0.4, Grammar: 0.3}
}

// DefaultOralWeights returns the standard oral-track weighting.
func DefaultOralWeights() OralWeights {
	return OralWeights{Technical: 0.30, Coherence: 0.30, Relevance: 0.25, Clarity: 0.15}
}

// Overall combines the text-track sub-scores, rounded to two decimals.
func (w TextWeights) Overall(qcm, technical, grammar float64) float64 {
	return round2(qcm*w.QCM + technical*w.Technical + grammar*w.Grammar)
}

// Overall combines the oral-track sub-scores, rounded to two decimals.
func (w OralWeights) Overall(technical, coherence, relevance, clarity float64) float64 {
	return round2(technical*w.Technical + coherence*w.Coherence + relevance*w.Relevance + clarity*w.Clarity)
}

// QCMScore is correct/total scaled to ten, rounded to two decimals.
func QCMScore(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(correct) / float64(total) * 10)
}

func meanScore(evaluations []dto.QuestionEvaluation) float64 {
	if len(evaluations) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evaluations {
		sum += e.Score
	}
	return round2(sum / float64(len(evaluations)))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func performanceBand(score float64) string {
	switch {
	case score >= 8:
		return "Excellent performance across coding challenges"
	case score >= 6:
		return "Good performance with room for improvement"
	case score >= 4:
		return "Average performance, needs development in key areas"
	default:
		return "Needs significant improvement in coding skills"
	}
}

func overallFeedback(score float64, lowConfidence int) string {
	feedback := performanceBand(score)
	if lowConfidence == 1 {
		feedback += ". 1 question was scored without full evidence and should be reviewed"
	} else if lowConfidence > 1 {
		feedback += ". " + strconv.Itoa(lowConfidence) + " questions were scored without full evidence and should be reviewed"
	}
	return feedback
}

func countLowConfidence(evaluations []dto.QuestionEvaluation) int {
	count := 0
	for _, e := range evaluations {
		if e.LowConfidence {
			count++
		}
	}
	return count
}

// slugify lowercases and joins alphanumeric runs with dashes.
func slugify(value string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// ReportKey builds the deterministic storage key for one candidate interview.
func ReportKey(prefix, candidate, date string) string {
	name := slugify(candidate)
	if name == "" {
		name = "candidate"
	}
	key := prefix + "-" + name
	if day := slugify(date); day != "" {
		key += "-" + day
	}
	return key
}
