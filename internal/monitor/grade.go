package monitor

// Grade is the three-band rating used by Core Web Vitals.
type Grade string

// Grades from best to worst.
const (
	GradeGood             Grade = "good"
	GradeNeedsImprovement Grade = "needs-improvement"
	GradePoor             Grade = "poor"
)

type gradeBounds struct {
	good float64
	poor float64
}

var metricBounds = map[string]gradeBounds{
	"lcp":  {good: 2500, poor: 4000},
	"cls":  {good: 0.1, poor: 0.25},
	"inp":  {good: 200, poor: 500},
	"fcp":  {good: 1800, poor: 3000},
	"ttfb": {good: 800, poor: 1800},
}

// GradeMetric rates a value for the named metric. Unknown metrics grade as
// poor so they never read as healthy.
func GradeMetric(metric string, value float64) Grade {
	b, ok := metricBounds[metric]
	if !ok {
		return GradePoor
	}
	switch {
	case value <= b.good:
		return GradeGood
	case value <= b.poor:
		return GradeNeedsImprovement
	default:
		return GradePoor
	}
}

// GradeScore rates a 0-100 Lighthouse score.
func GradeScore(score int) Grade {
	switch {
	case score >= 90:
		return GradeGood
	case score >= 50:
		return GradeNeedsImprovement
	default:
		return GradePoor
	}
}

// GradeLab derives the stored grades from lab metrics. A missing or zero
// measurement has no grade.
func GradeLab(lab LabMetrics) Grades {
	return Grades{
		LCP: gradeOf("lcp", lab.LCP),
		CLS: gradeOf("cls", lab.CLS),
		INP: gradeOf("inp", lab.INP),
	}
}

func gradeOf(metric string, v *float64) *Grade {
	if v == nil || *v == 0 {
		return nil
	}
	g := GradeMetric(metric, *v)
	return &g
}
