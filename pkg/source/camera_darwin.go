//go:build darwin

package source

// cameraInput uses AVFoundation. The built-in cameras only accept a few
// capture sizes, so frames are captured at the default size and scaled.
func cameraInput(cfg CameraConfig, _, _ int) []string {
	device := cfg.Device
	if device == "" {
		device = "0"
	}
	return []string{
		"-f", "avfoundation",
		"-framerate", "30",
		"-pixel_format", "uyvy422",
		"-i", device + ":none",
	}
}
