//go:build !linux

package indicator

import "errors"

// LED is unavailable off Linux.
type LED struct{}

func Open(string, int) (*LED, error) {
	return nil, errors.New("gpio indicators require linux")
}

func (*LED) Set(bool) error { return nil }
func (*LED) Close() error   { return nil }
