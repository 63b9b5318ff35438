package stream

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/care/oviss/internal/types"
)

// OpenCVDialer opens playback addresses through OpenCV's FFmpeg backend.
// Reads are blocking cgo calls; ctx is checked before each call only.
type OpenCVDialer struct{}

// Dial implements Dialer
func (OpenCVDialer) Dial(url string) Source {
	return &cvSource{url: url}
}

type cvSource struct {
	url     string
	capture *gocv.VideoCapture
	mat     *gocv.Mat
}

func (s *cvSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	capture, err := gocv.VideoCaptureFile(s.url)
	if err != nil {
		return fmt.Errorf("could not open stream: %w", err)
	}
	s.capture = capture

	if !capture.IsOpened() {
		return fmt.Errorf("could not open stream")
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)
	return nil
}

// Read grabs one frame and converts it from BGR to packed RGB
func (s *cvSource) Read(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.capture == nil {
		return nil, fmt.Errorf("capture not opened")
	}

	mat := gocv.NewMat()
	s.mat = &mat
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		return nil, ErrEmptyFrame
	}
	if mat.Channels() != 3 {
		return &types.Frame{
			Width:    mat.Cols(),
			Height:   mat.Rows(),
			Channels: mat.Channels(),
			Data:     mat.ToBytes(),
		}, nil
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)

	return &types.Frame{
		Width:    rgb.Cols(),
		Height:   rgb.Rows(),
		Channels: rgb.Channels(),
		Data:     rgb.ToBytes(),
	}, nil
}

// Release closes the mat and the capture. Safe without a prior Open.
func (s *cvSource) Release() error {
	if s.mat != nil {
		s.mat.Close()
		s.mat = nil
	}
	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	return err
}
