// Package vision provides the OpenCV backed camera and YOLO object detector.
//
// Both types satisfy the perception contracts: [Open] returns a camera for a
// single capture and [Detector] runs a YOLOv8 ONNX model through the OpenCV
// DNN module.
package vision

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// Frame wraps an OpenCV matrix.
type Frame struct {
	mat gocv.Mat
}

// Save writes the frame to path; the extension selects the encoding.
func (f *Frame) Save(path string) error {
	if f.mat.Empty() {
		return errors.New("vision: empty frame")
	}
	if !gocv.IMWrite(path, f.mat) {
		return fmt.Errorf("vision: write %q", path)
	}
	return nil
}

// Close releases the matrix.
func (f *Frame) Close() error {
	return f.mat.Close()
}

// DecodeFrame decodes an encoded image, such as a JPEG taken by a phone, into
// a frame.
func DecodeFrame(data []byte) (*Frame, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("vision: decode image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, errors.New("vision: empty image")
	}
	return &Frame{mat: mat}, nil
}

// Camera is an open video capture device.
type Camera struct {
	cap *gocv.VideoCapture
}

// Open opens the capture device with the given index.
func Open(device int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("vision: open device %d: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("vision: device %d not opened", device)
	}
	return &Camera{cap: vc}, nil
}

// Read grabs the next frame.
func (c *Camera) Read(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat := gocv.NewMat()
	if ok := c.cap.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, errors.New("vision: no frame read")
	}
	return &Frame{mat: mat}, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	return c.cap.Close()
}
