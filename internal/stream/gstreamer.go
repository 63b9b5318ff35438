package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/oviss/internal/types"
)

// GstConfig configures the GStreamer decode pipeline
type GstConfig struct {
	Resolution types.Resolution
	LatencyMS  int // rtspsrc jitter buffer (default: 200)
}

// GstDialer opens playback addresses with a software H.264 pipeline:
//
//	rtspsrc → rtph264depay → avdec_h264 → videoconvert → videoscale →
//	capsfilter(RGB) → appsink
type GstDialer struct {
	cfg GstConfig
}

// NewGstDialer initialises GStreamer and verifies the plugins are present
func NewGstDialer(cfg GstConfig) (*GstDialer, error) {
	if cfg.LatencyMS <= 0 {
		cfg.LatencyMS = 200
	}
	if err := checkGStreamerAvailable(); err != nil {
		return nil, err
	}
	return &GstDialer{cfg: cfg}, nil
}

// Dial implements Dialer
func (d *GstDialer) Dial(url string) Source {
	w, h := d.cfg.Resolution.Dimensions()
	return &gstSource{url: url, width: w, height: h, latency: d.cfg.LatencyMS}
}

type gstSource struct {
	url     string
	width   int
	height  int
	latency int

	pipeline *gst.Pipeline
	frames   chan *types.Frame
}

// Open builds the pipeline and sets it to PLAYING
func (s *gstSource) Open(ctx context.Context) error {
	pipeline, sink, err := s.createPipeline()
	if err != nil {
		return err
	}
	s.pipeline = pipeline
	s.frames = make(chan *types.Frame, 1)

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	return nil
}

// Read waits for the first decoded sample, a pipeline error, or ctx
func (s *gstSource) Read(ctx context.Context) (*types.Frame, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("pipeline not initialized")
	}
	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case f := <-s.frames:
			return f, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for first frame: %w", ctx.Err())
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			select {
			case f := <-s.frames:
				return f, nil
			default:
			}
			return nil, fmt.Errorf("end of stream before first frame")

		case gst.MessageError:
			gerr := msg.ParseError()
			return nil, &PipelineError{Message: gerr.Error(), Debug: gerr.DebugString()}
		}
	}
}

// Release stops the pipeline. Safe without a prior Open.
func (s *gstSource) Release() error {
	if s.pipeline == nil {
		return nil
	}
	err := s.pipeline.SetState(gst.StateNull)
	s.pipeline = nil
	if err != nil {
		return fmt.Errorf("failed to stop pipeline: %w", err)
	}
	return nil
}

func (s *gstSource) createPipeline() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	// protocols=4 is TCP only
	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", s.url)
	rtspsrc.SetProperty("protocols", 4)
	rtspsrc.SetProperty("latency", s.latency)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000))

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rtph264depay: %w", err)
	}

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create avdec_h264: %w", err)
	}
	decoder.SetProperty("output-corrupt", false)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", s.width, s.height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(rtspsrc, depay, decoder, converter, scaler, capsfilter, sink.Element)

	// rtspsrc pads are dynamic and linked in pad-added
	if err := gst.ElementLinkMany(depay, decoder, converter, scaler, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil {
			slog.Error("gst: failed to get sink pad from rtph264depay")
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Debug("gst: failed to link pads",
				"src_pad", srcPad.GetName(),
				"ret", ret,
			)
		}
	})

	return pipeline, sink, nil
}

// onNewSample copies the first sample out of the appsink. Later samples are
// dropped since only one frame is needed per connection.
func (s *gstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}

	// GStreamer reuses the buffer
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := &types.Frame{
		Width:    s.width,
		Height:   s.height,
		Channels: 3,
		Data:     frameData,
		TraceID:  uuid.New().String(),
	}

	select {
	case s.frames <- frame:
	default:
	}
	return gst.FlowOK
}

// checkGStreamerAvailable fails fast when the required elements are missing
func checkGStreamerAvailable() error {
	gst.Init(nil)

	for _, name := range []string{"rtspsrc", "rtph264depay", "avdec_h264", "videoconvert"} {
		elem, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("GStreamer element %s not available: %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}
	return nil
}
