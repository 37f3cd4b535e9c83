// Command recorder drives the capture core against a directory of
// frames: a replay of a recorded sweep, or a live directory being
// filled by another process (watched via fsnotify). Each frame is an
// image file plus a pose entry; results land in left/right output
// directories next to an input-summary manifest.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stereosphere/panorec/internal/feedbackweb"
	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/recorder"
	"github.com/stereosphere/panorec/internal/selector"
	"github.com/stereosphere/panorec/internal/storage"
	"github.com/stereosphere/panorec/internal/version"
)

var (
	inputDir     = flag.String("input", "", "Directory with frame images and pose files")
	outputDir    = flag.String("out", "pano_out", "Output directory for left/right results")
	watch        = flag.Bool("watch", false, "Keep watching the input directory for new frames")
	mode         = flag.String("mode", "center", "Graph mode: center|truncated|all")
	density      = flag.Float64("density", 1.0, "Target density: 0.5|1|2")
	tolerance    = flag.Float64("tolerance", 1.0, "Tolerance multiplier")
	halfGraph    = flag.Bool("half-graph", false, "Record every other target")
	hOverlap     = flag.Float64("h-overlap", graph.DefaultHOverlap, "Horizontal target overlap")
	vOverlap     = flag.Float64("v-overlap", graph.DefaultVOverlap, "Vertical ring overlap")
	markSkipped  = flag.Bool("mark-skipped", false, "Record skipped targets as empty instead of waiting")
	stereoH      = flag.Int("stereo-h-buffer", 0, "Horizontal crop margin for rectified views")
	stereoV      = flag.Int("stereo-v-buffer", 0, "Vertical crop margin for rectified views")
	debugPath    = flag.String("debug", "", "Debug output directory (empty disables)")
	sessionStore = flag.String("session-store", "", "Optional sqlite session store path")
	listen       = flag.String("listen", "", "Serve the progress feed on this address (e.g. :8081)")
	focal        = flag.Float64("focal", 400, "Focal length in pixels")
	cx           = flag.Float64("cx", 320, "Principal point x in pixels")
	cy           = flag.Float64("cy", 320, "Principal point y in pixels")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// poseEntry is one frame's metadata as found in a .pose.json file.
type poseEntry struct {
	File  string  `json:"file"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Version)
		return
	}
	if *inputDir == "" {
		log.Fatal("missing -input directory")
	}

	graphMode, ok := graph.ParseMode(*mode)
	if !ok {
		log.Fatalf("unknown graph mode %q", *mode)
	}

	cfg := recorder.DefaultConfig()
	cfg.GraphMode = graphMode
	cfg.Density = graph.Density(*density)
	cfg.Tolerance = *tolerance
	cfg.HalfGraph = *halfGraph
	cfg.HOverlap = *hOverlap
	cfg.VOverlap = *vOverlap
	cfg.StereoHBuffer = *stereoH
	cfg.StereoVBuffer = *stereoV
	cfg.DebugPath = *debugPath
	cfg.SessionStorePath = *sessionStore
	if *markSkipped {
		cfg.Skip = selector.SkipMarkEmpty
	}

	var publisher *feedbackweb.Publisher
	if *listen != "" {
		publisher = feedbackweb.NewPublisher()
		cfg.Publisher = publisher
		mux := http.NewServeMux()
		mux.Handle("/progress", publisher)
		go func() {
			log.Printf("progress feed on %s/progress", *listen)
			if err := http.ListenAndServe(*listen, mux); err != nil {
				log.Printf("progress feed: %v", err)
			}
		}()
	}

	left, err := storage.NewFileSink(filepath.Join(*outputDir, "left"))
	if err != nil {
		log.Fatal(err)
	}
	right, err := storage.NewFileSink(filepath.Join(*outputDir, "right"))
	if err != nil {
		log.Fatal(err)
	}

	k := geom.NewIntrinsics(*focal, *focal, *cx, *cy)
	rec, err := recorder.New(geom.Identity4(), geom.Identity4(), k, left, right, cfg)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("recorder %s session %s: %d targets", version.Version, rec.SessionID(), rec.ImagesToRecord())

	nextID := int64(0)
	pushPose := func(path string) {
		entry, err := readPose(path)
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			return
		}
		pose := geom.RotationY(entry.Yaw).
			Mul(geom.RotationX(entry.Pitch)).
			Mul(geom.RotationZ(entry.Roll))
		f := frame.New(nextID, k, pose, frame.FileSource{
			Path: filepath.Join(*inputDir, entry.File),
		})
		nextID++
		rec.Push(f)
	}

	for _, path := range scanPoses(*inputDir) {
		pushPose(path)
		if rec.IsFinished() {
			break
		}
	}

	if *watch && !rec.IsFinished() {
		if err := watchPoses(*inputDir, pushPose, rec.IsFinished); err != nil {
			log.Printf("watch: %v", err)
		}
	}

	if err := rec.Finish(); err != nil {
		log.Fatalf("finishing: %v", err)
	}
	log.Printf("recorded %d/%d targets, %d left + %d right rectified frames",
		rec.RecordedImages(), rec.ImagesToRecord(), left.Saved(), right.Saved())
}

// scanPoses lists existing pose files in name order.
func scanPoses(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("reading %s: %v", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

// watchPoses feeds newly created pose files until done reports true.
func watchPoses(dir string, push func(string), done func() bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	for !done() {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && filepath.Ext(ev.Name) == ".json" {
				// Give the writer a moment to finish the file.
				time.Sleep(10 * time.Millisecond)
				push(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch error: %v", err)
		}
	}
	return nil
}

func readPose(path string) (poseEntry, error) {
	var entry poseEntry
	raw, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return entry, fmt.Errorf("parsing pose: %w", err)
	}
	if entry.File == "" {
		return entry, fmt.Errorf("pose without file reference")
	}
	return entry, nil
}
