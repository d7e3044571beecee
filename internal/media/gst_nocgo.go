//go:build !cgo

package media

import "fmt"

// Init reports that GStreamer is unavailable in builds without cgo
func Init() error {
	return fmt.Errorf("%w: built without cgo, gstreamer is unavailable", ErrInit)
}

// GstEngine is unavailable without cgo
type GstEngine struct{}

// NewGstEngine always fails without cgo
func NewGstEngine() (*GstEngine, error) {
	return nil, Init()
}

// NewPipeline always fails without cgo
func (e *GstEngine) NewPipeline(name string) (Pipeline, error) {
	return nil, Init()
}

// ParseLaunch always fails without cgo
func (e *GstEngine) ParseLaunch(description string) (Pipeline, error) {
	return nil, Init()
}
