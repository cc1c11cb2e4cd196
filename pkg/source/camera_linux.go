//go:build linux

package source

import "strconv"

func cameraInput(cfg CameraConfig, w, h int) []string {
	device := cfg.Device
	if device == "" {
		device = "/dev/video0"
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 15
	}
	return []string{
		"-f", "v4l2",
		"-framerate", strconv.Itoa(fps),
		"-video_size", strconv.Itoa(w) + "x" + strconv.Itoa(h),
		"-i", device,
	}
}
