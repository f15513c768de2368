package summarizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/detectshow/pkg/pipeline"
)

// MarkdownFormatter renders a Summary as a Markdown document with one
// table per section.
type MarkdownFormatter struct {
	translate func(string) string
	version   string
}

// MarkdownOption configures a MarkdownFormatter.
type MarkdownOption func(*MarkdownFormatter)

// WithTranslator translates headings and item names.
func WithTranslator(t func(string) string) MarkdownOption {
	return func(f *MarkdownFormatter) { f.translate = t }
}

// WithVersion adds the program version to the footer.
func WithVersion(v string) MarkdownOption {
	return func(f *MarkdownFormatter) { f.version = v }
}

// NewMarkdownFormatter creates a new MarkdownFormatter.
func NewMarkdownFormatter(opts ...MarkdownOption) *MarkdownFormatter {
	f := &MarkdownFormatter{translate: func(s string) string { return s }}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format implements Formatter.
func (f *MarkdownFormatter) Format(s *Summary) string {
	t := f.translate
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", t("Run Summary"))
	fmt.Fprintf(&b, "%s: %s\n\n", t("Generated"), s.GeneratedAt.Format(time.RFC3339))

	f.section(&b, t("Source"), [][2]string{
		{t("Input"), s.Source.Path},
		{t("Codec"), s.Source.Codec},
		{t("Resolution"), fmt.Sprintf("%dx%d", s.Source.Width, s.Source.Height)},
		{t("Duration"), fmt.Sprintf("%d ms", s.Source.DurationMs)},
		{t("Frame Rate"), fmt.Sprintf("%.2f fps", s.Source.FrameRate)},
	})

	r := s.Results
	f.section(&b, t("Results"), [][2]string{
		{t("Samples"), fmt.Sprintf("%d", r.Samples)},
		{t("Processed"), fmt.Sprintf("%d", r.Processed)},
		{t("Skipped"), fmt.Sprintf("%d", r.Skipped)},
		{t("Detections"), fmt.Sprintf("%d", r.Detections)},
		{t("Average Confidence"), averageConfidence(t, r)},
		{t("Elapsed"), fmt.Sprintf("%d ms", r.ElapsedMs)},
	})

	st := s.Settings
	settings := [][2]string{
		{t("Detector"), orNone(t, st.Detector)},
		{t("Interval"), fmt.Sprintf("%d ms", st.IntervalMs)},
		{t("Model Input"), fmt.Sprintf("%dx%d", st.ModelWidth, st.ModelHeight)},
		{t("Min Confidence"), fmt.Sprintf("%.2f", st.MinConfidence)},
		{t("Max Detections"), maxDetections(t, st.MaxDetections)},
	}
	if st.Quality != "" {
		settings = append([][2]string{{t("Quality"), st.Quality}}, settings...)
	}
	f.section(&b, t("Settings"), settings)

	o := s.Output
	rows := [][2]string{{t("Output Mode"), o.Mode.String()}}
	if o.Mode == pipeline.OutputFrames {
		rows = append(rows,
			[2]string{t("Frame Directory"), o.Path},
			[2]string{t("Frame Count"), fmt.Sprintf("%d", o.FrameCount)},
		)
	} else {
		rows = append(rows,
			[2]string{t("Video File"), o.Path},
			[2]string{t("Frame Count"), fmt.Sprintf("%d", o.FrameCount)},
			[2]string{t("Video File Size"), formatBytes(o.FileSize)},
		)
	}
	f.section(&b, t("Output"), rows)

	b.WriteString("---\n\n")
	footer := t("Generated by") + " detectshow"
	if f.version != "" {
		footer += " " + f.version
	}
	b.WriteString(footer + "\n")
	return b.String()
}

func (f *MarkdownFormatter) section(b *strings.Builder, title string, rows [][2]string) {
	fmt.Fprintf(b, "## %s\n\n", title)
	fmt.Fprintf(b, "| %s | %s |\n", f.translate("Item"), f.translate("Value"))
	b.WriteString("|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(b, "| %s | %s |\n", r[0], escape(r[1]))
	}
	b.WriteString("\n")
}

func orNone(t func(string) string, s string) string {
	if s == "" {
		return t("None")
	}
	return s
}

func averageConfidence(t func(string) string, r ResultInfo) string {
	if r.Detections == 0 {
		return t("None")
	}
	return fmt.Sprintf("%.1f%%", r.AverageConfidence*100)
}

func maxDetections(t func(string) string, n int) string {
	if n <= 0 {
		return t("Unlimited")
	}
	return fmt.Sprintf("%d", n)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// formatBytes renders n with binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMG"[exp])
}
