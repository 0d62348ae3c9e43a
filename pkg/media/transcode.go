package media

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/metrics"
	"github.com/collabcanvas/canvasd/pkg/store"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// Broadcast events emitted on the room channel during transcoding.
const (
	eventProcessingStart    = "video_processing_start"
	eventProcessingProgress = "video_processing_progress"
	eventProcessingComplete = "video_processing_complete"
	eventQueueUpdate        = "video_queue_update"
)

// Broadcaster delivers media events to every socket in a canvas room. The
// collaboration hub satisfies it.
type Broadcaster interface {
	EmitToCanvas(canvasID, event string, data any, except ...string)
}

// TranscodeFormat describes one output target.
type TranscodeFormat struct {
	Name         string // "webm" or "mp4"
	VideoCodec   string
	AudioCodec   string
	CRF          int
	AudioBitrate string
}

// Default output set. MP4/H.264 stays available behind configuration but
// off by default; WebM/VP9 covers every current browser.
var (
	FormatWebM = TranscodeFormat{
		Name:         "webm",
		VideoCodec:   "libvpx-vp9",
		AudioCodec:   "libopus",
		CRF:          30,
		AudioBitrate: "128k",
	}
	FormatMP4 = TranscodeFormat{
		Name:         "mp4",
		VideoCodec:   "libx264",
		AudioCodec:   "aac",
		CRF:          23,
		AudioBitrate: "128k",
	}
)

// transcodeJob is one queued video.
type transcodeJob struct {
	filename   string
	sourcePath string
	canvasID   string

	cancelled atomic.Bool
	// process group of the running encoder, set while active
	pgid int
}

func (j *transcodeJob) isCancelled() bool {
	return j.cancelled.Load()
}

// TranscodeQueue is the single-worker FIFO video encoder. One job runs at a
// time; queued jobs report their position and can be cancelled before or
// during encoding.
type TranscodeQueue struct {
	ffmpegPath  string
	ffprobePath string
	uploadsDir  string
	formats     []TranscodeFormat
	maxWidth    int
	maxHeight   int
	deleteOrig  bool

	store     *store.GORMStore
	thumbs    *Thumbnailer
	broadcast Broadcaster
	metrics   *metrics.CanvasMetrics

	mu     sync.Mutex
	queue  []*transcodeJob
	active *transcodeJob
	wake   chan struct{}
	done   chan struct{}
}

// TranscodeQueueConfig carries queue construction parameters.
type TranscodeQueueConfig struct {
	FFmpegPath     string
	FFprobePath    string
	UploadsDir     string
	Formats        []TranscodeFormat
	MaxWidth       int
	MaxHeight      int
	DeleteOriginal bool
}

// NewTranscodeQueue creates the queue. Call Run to start the worker.
func NewTranscodeQueue(cfg TranscodeQueueConfig, st *store.GORMStore, thumbs *Thumbnailer, b Broadcaster, m *metrics.CanvasMetrics) *TranscodeQueue {
	formats := cfg.Formats
	if len(formats) == 0 {
		formats = []TranscodeFormat{FormatWebM}
	}
	maxW, maxH := cfg.MaxWidth, cfg.MaxHeight
	if maxW <= 0 {
		maxW = 1920
	}
	if maxH <= 0 {
		maxH = 1080
	}
	return &TranscodeQueue{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		uploadsDir:  cfg.UploadsDir,
		formats:     formats,
		maxWidth:    maxW,
		maxHeight:   maxH,
		deleteOrig:  cfg.DeleteOriginal,
		store:       st,
		thumbs:      thumbs,
		broadcast:   b,
		metrics:     m,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// NeedsTranscode reports whether a probed source requires re-encoding: a
// WebM/VP9 or MP4/H.264 original already within the size box is served
// as-is.
func (q *TranscodeQueue) NeedsTranscode(probe *ProbeResult, mimeType string) bool {
	if !probe.FitsWithin(q.maxWidth, q.maxHeight) {
		return true
	}
	switch probe.VideoCodec {
	case "vp9", "vp8":
		return !strings.Contains(mimeType, "webm")
	case "h264":
		return !strings.Contains(mimeType, "mp4")
	}
	return true
}

// Enqueue appends a job and wakes the worker. Returns the 1-based queue
// position (0 when the job starts immediately).
func (q *TranscodeQueue) Enqueue(filename, sourcePath, canvasID string) int {
	q.mu.Lock()
	job := &transcodeJob{filename: filename, sourcePath: sourcePath, canvasID: canvasID}
	q.queue = append(q.queue, job)
	position := len(q.queue)
	if q.active == nil {
		position = position - 1
	}
	depth := len(q.queue)
	q.mu.Unlock()

	q.metrics.SetTranscodeQueueDepth(depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}

	logger.Info("transcode job queued",
		logger.Filename(filename),
		logger.CanvasID(canvasID),
		logger.Queue(depth))
	return position
}

// killTimeout bounds how long a signalled encoder may linger before its
// process group is hard-killed.
var killTimeout = 5 * time.Second

// killGroup signals an encoder process group. Package variable so tests can
// observe signalling without spawning processes.
var killGroup = func(pgid int, sig syscall.Signal) error {
	return syscall.Kill(-pgid, sig)
}

// Cancel removes a queued job or interrupts the active one. Returns false
// when the filename is neither queued nor active.
func (q *TranscodeQueue) Cancel(filename string) bool {
	q.mu.Lock()

	for i, job := range q.queue {
		if job.filename != filename {
			continue
		}
		job.cancelled.Store(true)
		q.queue = append(q.queue[:i], q.queue[i+1:]...)
		positions := q.positionsLocked()
		depth := len(q.queue)
		q.mu.Unlock()

		q.metrics.SetTranscodeQueueDepth(depth)
		q.emitQueuePositions(positions)
		logger.Info("queued transcode cancelled", logger.Filename(filename))
		return true
	}

	if q.active != nil && q.active.filename == filename {
		job := q.active
		job.cancelled.Store(true)
		pgid := job.pgid
		q.mu.Unlock()

		if pgid > 0 {
			q.interrupt(job, pgid)
		}
		logger.Info("active transcode cancelled", logger.Filename(filename))
		return true
	}

	q.mu.Unlock()
	return false
}

// interrupt sends SIGINT to the encoder group and escalates to SIGKILL when
// the process has not exited within killTimeout. encode clears job.pgid on
// exit, which stands the escalation down.
func (q *TranscodeQueue) interrupt(job *transcodeJob, pgid int) {
	killGroup(pgid, syscall.SIGINT)
	go func() {
		time.Sleep(killTimeout)
		q.mu.Lock()
		lingering := job.pgid == pgid
		q.mu.Unlock()
		if lingering {
			killGroup(pgid, syscall.SIGKILL)
		}
	}()
}

// positionsLocked snapshots (filename, canvasID, position) for queued jobs.
func (q *TranscodeQueue) positionsLocked() []*transcodeJob {
	out := make([]*transcodeJob, len(q.queue))
	copy(out, q.queue)
	return out
}

func (q *TranscodeQueue) emitQueuePositions(jobs []*transcodeJob) {
	for i, job := range jobs {
		q.broadcast.EmitToCanvas(job.canvasID, eventQueueUpdate, map[string]any{
			"filename": job.filename,
			"position": i + 1,
		})
	}
}

// Run drives the worker until ctx is done. In-flight encodes are
// interrupted on shutdown.
func (q *TranscodeQueue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		q.mu.Lock()
		var job *transcodeJob
		if len(q.queue) > 0 {
			job = q.queue[0]
			q.queue = q.queue[1:]
			q.active = job
		}
		depth := len(q.queue)
		q.mu.Unlock()

		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.metrics.SetTranscodeQueueDepth(depth)
		q.process(ctx, job)

		q.mu.Lock()
		q.active = nil
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Wait blocks until the worker has exited.
func (q *TranscodeQueue) Wait() {
	<-q.done
}

// process runs one job end to end: probe, poster, per-format encode,
// files-row update, completion event.
func (q *TranscodeQueue) process(ctx context.Context, job *transcodeJob) {
	start := time.Now()

	if err := q.store.UpdateProcessingStatus(ctx, job.filename, models.ProcessingActive, ""); err != nil {
		logger.Warn("failed to mark file processing", logger.Filename(job.filename), logger.Err(err))
	}

	probe, err := Probe(ctx, q.ffprobePath, job.sourcePath)
	if err != nil {
		q.finish(ctx, job, nil, err)
		return
	}

	if err := q.generatePoster(ctx, job, probe); err != nil {
		logger.Warn("poster generation failed", logger.Filename(job.filename), logger.Err(err))
	}

	outW, outH := fitWithin(probe.Width, probe.Height, q.maxWidth, q.maxHeight)

	var succeeded []string
	var lastErr error
	for _, format := range q.formats {
		if job.isCancelled() {
			q.finish(ctx, job, succeeded, fmt.Errorf("cancelled"))
			return
		}
		if err := q.encode(ctx, job, probe, format, outW, outH); err != nil {
			if job.isCancelled() {
				q.finish(ctx, job, succeeded, fmt.Errorf("cancelled"))
				return
			}
			logger.Error("transcode failed",
				logger.Filename(job.filename),
				logger.Format(format.Name),
				logger.Err(err))
			lastErr = err
			continue
		}
		succeeded = append(succeeded, format.Name)
	}

	if q.deleteOrig && len(succeeded) > 0 {
		if err := os.Remove(job.sourcePath); err != nil {
			logger.Warn("failed to delete original after transcode",
				logger.Filename(job.filename),
				logger.Err(err))
		}
	}

	if len(succeeded) == 0 && lastErr != nil {
		q.finish(ctx, job, nil, lastErr)
		return
	}
	q.finish(ctx, job, succeeded, nil)

	logger.Info("transcode complete",
		logger.Filename(job.filename),
		logger.DurationMs(float64(time.Since(start).Milliseconds())))
}

// finish records the terminal state and emits video_processing_complete.
func (q *TranscodeQueue) finish(ctx context.Context, job *transcodeJob, formats []string, err error) {
	if err != nil {
		q.metrics.RecordTranscode("failed")
		if uerr := q.store.UpdateProcessingStatus(ctx, job.filename, models.ProcessingFailed, err.Error()); uerr != nil {
			logger.Warn("failed to record transcode failure", logger.Filename(job.filename), logger.Err(uerr))
		}
		q.broadcast.EmitToCanvas(job.canvasID, eventProcessingComplete, map[string]any{
			"filename": job.filename,
			"success":  false,
			"error":    err.Error(),
		})
		return
	}

	q.metrics.RecordTranscode("completed")
	raw, _ := json.Marshal(formats)
	if uerr := q.store.UpdateProcessedFormats(ctx, job.filename, raw); uerr != nil {
		logger.Warn("failed to record processed formats", logger.Filename(job.filename), logger.Err(uerr))
	}
	if uerr := q.store.UpdateProcessingStatus(ctx, job.filename, models.ProcessingCompleted, ""); uerr != nil {
		logger.Warn("failed to mark file completed", logger.Filename(job.filename), logger.Err(uerr))
	}
	q.broadcast.EmitToCanvas(job.canvasID, eventProcessingComplete, map[string]any{
		"filename": job.filename,
		"success":  true,
		"formats":  formats,
	})
}

// generatePoster grabs a frame at 10% of duration, scaled to width 320.
func (q *TranscodeQueue) generatePoster(ctx context.Context, job *transcodeJob, probe *ProbeResult) error {
	seek := probe.Duration * 0.10
	outPath := q.thumbs.Path(320, job.filename)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, q.ffmpegPath,
		"-y",
		"-ss", fmt.Sprintf("%.3f", seek),
		"-i", job.sourcePath,
		"-frames:v", "1",
		"-vf", "scale=320:-2",
		"-c:v", "libwebp",
		"-quality", strconv.Itoa(thumbnailQuality),
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("ffmpeg poster: %w (%s)", err, lastLine(out))
	}
	return nil
}

// encode runs one ffmpeg encode with -progress parsing and process-group
// cancellation.
func (q *TranscodeQueue) encode(ctx context.Context, job *transcodeJob, probe *ProbeResult, format TranscodeFormat, outW, outH int) error {
	outPath := filepath.Join(q.uploadsDir, Basename(job.filename)+"."+format.Name)

	args := []string{
		"-y",
		"-i", job.sourcePath,
		"-c:v", format.VideoCodec,
		"-crf", strconv.Itoa(format.CRF),
		"-b:v", "0",
		"-vf", fmt.Sprintf("scale=%d:%d", outW, outH),
		"-c:a", format.AudioCodec,
		"-b:a", format.AudioBitrate,
		"-progress", "pipe:1",
		"-nostats",
		outPath,
	}
	cmd := exec.Command(q.ffmpegPath, args...)
	// Own process group so cancel can signal ffmpeg and any children
	// together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	q.mu.Lock()
	job.pgid = cmd.Process.Pid
	q.mu.Unlock()

	go q.watchProgress(job, probe, format, stdout)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-waitErr:
	case <-ctx.Done():
		killGroup(cmd.Process.Pid, syscall.SIGINT)
		select {
		case runErr = <-waitErr:
		case <-time.After(killTimeout):
			killGroup(cmd.Process.Pid, syscall.SIGKILL)
			runErr = <-waitErr
		}
	}

	q.mu.Lock()
	job.pgid = 0
	q.mu.Unlock()

	if runErr != nil {
		os.Remove(outPath)
		return fmt.Errorf("ffmpeg %s: %w", format.Name, runErr)
	}
	if job.isCancelled() {
		os.Remove(outPath)
		return fmt.Errorf("cancelled")
	}
	return nil
}

// watchProgress parses ffmpeg's key=value progress stream and emits percent
// events. Cancelled jobs stop emitting immediately.
func (q *TranscodeQueue) watchProgress(job *transcodeJob, probe *ProbeResult, format TranscodeFormat, r io.Reader) {
	durationUs := probe.Duration * 1e6
	lastPercent := -1

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key != "out_time_us" {
			continue
		}
		if job.isCancelled() || durationUs <= 0 {
			continue
		}
		us, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		percent := int(us / durationUs * 100)
		if percent > 100 {
			percent = 100
		}
		if percent == lastPercent {
			continue
		}
		lastPercent = percent
		q.broadcast.EmitToCanvas(job.canvasID, eventProcessingProgress, map[string]any{
			"filename": job.filename,
			"format":   format.Name,
			"percent":  percent,
		})
	}
}

