package swingsense

import (
	"path/filepath"
	"sort"

	"github.com/blackjack/webcam"
	log "github.com/inconshreveable/log15"
)

const (
	V4L2_PIX_FMT_YUYV = 0x56595559
)

// DefaultCameraPattern matches the V4L2 capture devices.
const DefaultCameraPattern = "/dev/video*"

// Camera describes a capture device the remote detector can be pointed at.
// Index is the value to set as the camera config field.
type Camera struct {
	Index      int      `json:"index"`
	Device     string   `json:"device"`
	Formats    []string `json:"formats"`
	FrameSizes []string `json:"frame-sizes"`
}

// ListCameras probes every device matching pattern. Devices that cannot be
// opened as a webcam are skipped.
func ListCameras(pattern string) ([]Camera, error) {
	devices, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(devices)

	logger := log.New("module", "webcam")
	cameras := []Camera{}
	for _, dev := range devices {
		camera, err := probeCamera(dev)
		if err != nil {
			logger.Debug("Skipping device", "device", dev, "error", err)
			continue
		}
		camera.Index = len(cameras)
		cameras = append(cameras, camera)
	}
	return cameras, nil
}

func probeCamera(dev string) (Camera, error) {
	cam, err := webcam.Open(dev)
	if err != nil {
		return Camera{}, err
	}
	defer cam.Close()

	camera := Camera{Device: dev, Formats: []string{}, FrameSizes: []string{}}
	formatDesc := cam.GetSupportedFormats()
	for _, s := range formatDesc {
		camera.Formats = append(camera.Formats, s)
	}
	sort.Strings(camera.Formats)

	if _, ok := formatDesc[V4L2_PIX_FMT_YUYV]; ok {
		frames := cam.GetSupportedFrameSizes(V4L2_PIX_FMT_YUYV)
		// Smallest first
		sort.Slice(frames, func(i, j int) bool {
			return frames[i].MaxWidth*frames[i].MaxHeight < frames[j].MaxWidth*frames[j].MaxHeight
		})
		for _, f := range frames {
			camera.FrameSizes = append(camera.FrameSizes, f.GetString())
		}
	}
	return camera, nil
}
