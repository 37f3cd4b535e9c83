// Package recorder assembles the capture pipeline: coordinate
// conversion, pixel loading, online stream alignment, debug tap, frame
// selection, asynchronous decoupling, correspondence adjustment,
// reselection and stereo generation, ending in the left and right
// storage sinks. Stages are wired leaves-first; reading the
// constructor bottom to top follows the data flow.
package recorder

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/stereosphere/panorec/internal/align"
	"github.com/stereosphere/panorec/internal/convert"
	"github.com/stereosphere/panorec/internal/debugsink"
	"github.com/stereosphere/panorec/internal/feedbackweb"
	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/monitoring"
	"github.com/stereosphere/panorec/internal/pipe"
	"github.com/stereosphere/panorec/internal/selector"
	"github.com/stereosphere/panorec/internal/stereo"
	"github.com/stereosphere/panorec/internal/storage"
	"github.com/stereosphere/panorec/internal/stream"
)

// Probe resolution used for the start-up memory check.
const (
	probeWidth  = 1280
	probeHeight = 720
)

// Config holds every knob the host application can set. There is no
// module-level state; base and zero matrices arrive through New.
type Config struct {
	GraphMode graph.Mode
	Density   graph.Density
	// HalfGraph records every other target: the stereo stage then runs
	// against a graph thinned by two.
	HalfGraph bool
	HOverlap  float64
	VOverlap  float64
	// Tolerance scales the selector's tolerance ellipsoid.
	Tolerance float64
	Skip      selector.SkipPolicy

	StereoHBuffer int
	StereoVBuffer int
	Disparity     float64

	// DebugPath enables the debug tap when non-empty.
	DebugPath string
	// SessionStorePath enables the sqlite session store when non-empty.
	SessionStorePath string
	// Publisher receives progress updates when set.
	Publisher *feedbackweb.Publisher

	// Correlator overrides the pairwise correlation settings.
	Correlator align.Config
}

// DefaultConfig returns the standard recorder settings.
func DefaultConfig() Config {
	return Config{
		GraphMode:  graph.ModeCenter,
		Density:    graph.DensityNormal,
		HOverlap:   graph.DefaultHOverlap,
		VOverlap:   graph.DefaultVOverlap,
		Tolerance:  1.0,
		Correlator: align.DefaultConfig(),
	}
}

// Sink is what the recorder needs from each eye's storage: a pipeline
// sink for rectified frames plus the input-summary finaliser.
type Sink interface {
	pipe.Sink[*frame.Frame]
	SaveInputSummary(g *graph.RecorderGraph, frames []storage.ManifestFrame) error
}

// Recorder is the capture-and-alignment core.
type Recorder struct {
	sessionID string
	cfg       Config

	g           *graph.RecorderGraph
	stereoGraph *graph.RecorderGraph

	left  Sink
	right Sink

	converter *convert.CoordinateConverter
	aligner   *stream.RingwiseStreamAligner
	sel       *selector.FeedbackSelector
	decoupler *pipe.AsyncStage[selector.SelectionInfo]
	adjuster  *stream.CorrespondenceAdjuster
	tap       *selectionTap
	stereoQ   *pipe.AsyncStage[selector.SelectionInfo]
	generator *stereo.StereoGenerator

	store     *storage.SessionStore
	cancelled bool
	finished  bool
}

// New builds the full pipeline. base maps platform coordinates, zero is
// the user's start pose; intrinsics describe the camera.
func New(base, zero geom.Mat4, k geom.Intrinsics, left, right Sink, cfg Config) (*Recorder, error) {
	g := graph.Generate(k, graph.GeneratorConfig{
		Mode:     cfg.GraphMode,
		Density:  cfg.Density,
		HOverlap: cfg.HOverlap,
		VOverlap: cfg.VOverlap,
	})
	stereoGraph := g
	if cfg.HalfGraph {
		stereoGraph = graph.Sparse(g, 2)
	}

	imagesCount := g.Size()
	if got := frame.ProbeMemory(probeWidth, probeHeight, imagesCount); got < imagesCount {
		return nil, fmt.Errorf("recorder: pre-allocation probe failed, %d/%d buffers", got, imagesCount)
	}

	corr := align.NewPairwiseCorrelator(cfg.Correlator)

	r := &Recorder{
		sessionID:   uuid.NewString(),
		cfg:         cfg,
		g:           g,
		stereoGraph: stereoGraph,
		left:        left,
		right:       right,
	}

	// Order of operations, read from bottom to top.
	r.generator = stereo.NewStereoGenerator(stereo.Config{
		HBuffer:   cfg.StereoHBuffer,
		VBuffer:   cfg.StereoVBuffer,
		Disparity: cfg.Disparity,
	}, left, right)
	// Decouples stereo generation from adjustment.
	r.stereoQ = pipe.NewAsyncStage[selector.SelectionInfo](r.generator, 1, pipe.BlockOnFull)
	// Re-selects against the (possibly thinned) stereo graph.
	resel := selector.NewReselector(stereoGraph, r.stereoQ)
	// Records assignments for the input summary on the way past.
	r.tap = &selectionTap{out: resel}
	// Refines all poses against the graph edges after capture.
	r.adjuster = stream.NewCorrespondenceAdjuster(g, corr, r.tap)
	// Closes each completed ring before the batch adjustment runs.
	r.aligner = stream.NewRingwiseStreamAligner(g, corr)
	closer := &ringCloserStage{aligner: r.aligner, corr: corr, out: r.adjuster}
	// Decouples slow correspondence finding from the capture thread.
	r.decoupler = pipe.NewAsyncStage[selector.SelectionInfo](closer, 1, pipe.BlockOnFull)
	// Selects good frames.
	r.sel = selector.New(g, r.decoupler, selector.Config{
		Tolerance: cfg.Tolerance,
		Skip:      cfg.Skip,
	})
	// Writes debug images, if necessary.
	debug := debugsink.New(cfg.DebugPath, r.sel)
	// Corrects sensor drift online.
	alignStage := &alignerStage{aligner: r.aligner, out: debug}
	// Loads pixel data from the source descriptor.
	loader := &loaderStage{out: alignStage}
	// Converts input poses to the stitcher coordinate frame.
	r.converter = convert.New(base, zero, loader)

	if cfg.SessionStorePath != "" {
		store, err := storage.OpenSessionStore(cfg.SessionStorePath)
		if err != nil {
			return nil, err
		}
		if err := store.CreateSession(r.sessionID, cfg.GraphMode.String(), imagesCount); err != nil {
			store.Close()
			return nil, err
		}
		r.store = store
	}

	if cfg.DebugPath != "" {
		monitoring.Logf("recorder: debug mode active, writing to %s", cfg.DebugPath)
	}
	return r, nil
}

// SessionID returns the unique id of this recording session.
func (r *Recorder) SessionID() string { return r.sessionID }

// Push feeds the next captured frame into the pipeline.
func (r *Recorder) Push(f *frame.Frame) {
	if r.sel.IsFinished() {
		monitoring.Logf("recorder: push after finish, frame %d dropped downstream", f.ID)
	}
	r.converter.Push(f)
	r.publish()
}

// Finish drains the pipeline, runs the batch adjustment and writes the
// input summaries.
func (r *Recorder) Finish() error {
	if r.finished {
		return nil
	}
	r.finished = true

	r.converter.Finish()
	r.publish()
	return r.finalise()
}

// Cancel stops recording. With hard set, queued frames past the ones
// currently processing are dropped; otherwise queued frames drain so
// partial results persist.
func (r *Recorder) Cancel(hard bool) error {
	if r.finished {
		return nil
	}
	r.finished = true
	r.cancelled = true

	if hard {
		r.decoupler.Cancel(true)
		r.stereoQ.Cancel(true)
	}
	r.converter.Finish()
	return r.finalise()
}

func (r *Recorder) finalise() error {
	gains := r.adjuster.Gains()
	var manifest []storage.ManifestFrame
	for _, info := range r.tap.collected {
		mf := storage.ManifestFrame{Gain: 1.0}
		if info.Frame != nil {
			mf.FrameID = uint64(info.Frame.ID)
			mf.Adjusted = info.Frame.Adjusted
			if g, ok := gains[info.Frame.ID]; ok {
				mf.Gain = g
			}
		}
		if info.IsValid {
			mf.TargetID = uint32(info.ClosestPoint.GlobalID)
			mf.HasTgt = true
		}
		manifest = append(manifest, mf)
	}

	var firstErr error
	if err := r.left.SaveInputSummary(r.g, manifest); err != nil {
		firstErr = err
	}
	if err := r.right.SaveInputSummary(r.g, manifest); err != nil && firstErr == nil {
		firstErr = err
	}

	if r.cfg.DebugPath != "" {
		recorded := make(map[int]bool)
		for _, info := range r.tap.collected {
			if info.IsValid {
				recorded[info.ClosestPoint.GlobalID] = true
			}
		}
		if err := debugsink.WriteCoveragePlot(r.cfg.DebugPath, r.g, recorded); err != nil {
			monitoring.Logf("recorder: coverage plot: %v", err)
		}
	}

	if r.store != nil {
		for _, info := range r.tap.collected {
			if info.Frame == nil {
				continue
			}
			sf := storage.SessionFrame{
				FrameID:  info.Frame.ID,
				Gain:     1.0,
				Adjusted: info.Frame.Adjusted,
			}
			if g, ok := gains[info.Frame.ID]; ok {
				sf.Gain = g
			}
			if info.IsValid {
				t := int64(info.ClosestPoint.GlobalID)
				sf.TargetID = &t
			}
			if err := r.store.InsertFrame(r.sessionID, sf); err != nil {
				monitoring.Logf("recorder: session store: %v", err)
			}
		}
		if err := r.store.RecordCorrelationStats(r.sessionID, "stream",
			int64(len(r.tap.collected)), r.aligner.Rejections()); err != nil {
			monitoring.Logf("recorder: session store: %v", err)
		}
		if err := r.store.CompleteSession(r.sessionID, r.sel.RecordedImages(), r.cancelled); err != nil {
			monitoring.Logf("recorder: session store: %v", err)
		}
		if err := r.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Recorder) publish() {
	if r.cfg.Publisher == nil {
		return
	}
	r.cfg.Publisher.Publish(
		r.BallPosition(),
		r.sel.ErrorVector(),
		r.sel.Error(),
		r.sel.RecordedImages(),
		r.sel.ImagesToRecord(),
		r.sel.IsFinished(),
	)
}

// BallPosition returns the next target pose in device coordinates.
func (r *Recorder) BallPosition() geom.Mat4 {
	return r.converter.FromStitcher(r.sel.BallPosition())
}

// ErrorVector returns the angular distance to the next target.
func (r *Recorder) ErrorVector() geom.Vec3 { return r.sel.ErrorVector() }

// Error returns the total angular distance to the next target.
func (r *Recorder) Error() float64 { return r.sel.Error() }

// SetIdle toggles idle mode on the selector.
func (r *Recorder) SetIdle(idle bool) { r.sel.SetIdle(idle) }

// IsIdle reports whether the selector is idling.
func (r *Recorder) IsIdle() bool { return r.sel.IsIdle() }

// HasStarted reports whether any frame entered a target tolerance.
func (r *Recorder) HasStarted() bool { return r.sel.HasStarted() }

// IsFinished reports whether the last target has been passed.
func (r *Recorder) IsFinished() bool { return r.sel.IsFinished() }

// ImagesToRecord returns the total target count.
func (r *Recorder) ImagesToRecord() int { return r.sel.ImagesToRecord() }

// RecordedImages returns the number of recorded targets.
func (r *Recorder) RecordedImages() int { return r.sel.RecordedImages() }

// Rejected returns the number of pushes refused after finish.
func (r *Recorder) Rejected() int64 { return r.sel.Rejected() }

// Graph returns the recording target graph.
func (r *Recorder) Graph() *graph.RecorderGraph { return r.g }

// AreAdjacent reports whether two points form a stitch-pair candidate
// in the stereo graph.
func (r *Recorder) AreAdjacent(a, b graph.SelectionPoint) bool {
	_, ok := r.stereoGraph.Edge(a, b)
	return ok
}

// SelectionPoints returns all targets with poses converted to device
// coordinates for the UI.
func (r *Recorder) SelectionPoints() []graph.SelectionPoint {
	targets := r.g.Targets()
	out := make([]graph.SelectionPoint, len(targets))
	for i, t := range targets {
		t.Extrinsics = r.converter.FromStitcher(t.Extrinsics)
		out[i] = t
	}
	return out
}
