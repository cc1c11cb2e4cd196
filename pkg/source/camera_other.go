//go:build !linux && !darwin

package source

func cameraInput(CameraConfig, int, int) []string { return nil }
