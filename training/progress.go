package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/npanj/spark/optimizer"
)

// ProgressBar renders a single-line iteration progress bar to a writer
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	fmt.Fprint(pb.out, pb.line())
}

// line formats the current state of the bar
func (pb *ProgressBar) line() string {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}
	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fit/s", rate)
	}

	// Sorted so the line is stable between renders
	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line += fmt.Sprintf(", %s=%.4g", key, pb.metrics[key])
	}
	return line + "]"
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ProgressLogger is an optimizer.Listener that logs iterations through zap
// and, when given a writer, draws a progress bar.
type ProgressLogger struct {
	mu     sync.Mutex
	logger *zap.Logger
	every  int
	bar    *ProgressBar

	iterations int
	lastLoss   float64
}

// NewProgressLogger logs every n-th iteration at Info level and the others
// at Debug. out may be nil to disable the progress bar.
func NewProgressLogger(logger *zap.Logger, every, total int, out io.Writer) *ProgressLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if every <= 0 {
		every = 10
	}
	p := &ProgressLogger{logger: logger, every: every}
	if out != nil {
		p.bar = NewProgressBar(out, "Training", total)
	}
	return p
}

// OnIteration implements optimizer.Listener
func (p *ProgressLogger) OnIteration(e optimizer.IterationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.iterations = e.Iteration
	p.lastLoss = e.Loss

	fields := []zap.Field{
		zap.String("optimizer", e.Optimizer),
		zap.Int("iteration", e.Iteration),
		zap.Float64("loss", e.Loss),
		zap.Float64("grad_norm", e.GradNorm),
		zap.Int64("examples", e.Examples),
		zap.Duration("elapsed", e.Duration),
	}
	if e.Iteration%p.every == 0 || e.Iteration == 1 {
		p.logger.Info("training progress", fields...)
	} else {
		p.logger.Debug("training progress", fields...)
	}

	if p.bar != nil {
		p.bar.Update(e.Iteration, map[string]float64{"loss": e.Loss})
	}
}

// Finish closes the progress bar and logs the last observed state
func (p *ProgressLogger) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		p.bar.Finish()
	}
	p.logger.Info("training complete",
		zap.Int("iterations", p.iterations),
		zap.Float64("final_loss", p.lastLoss))
}
