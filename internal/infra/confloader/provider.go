package confloader

import "errors"

// ErrReadBytesNotSupported reports a ReadBytes call on the map
// provider, which only serves parsed maps.
var ErrReadBytesNotSupported = errors.New("confloader: ReadBytes not supported by map provider, use Read() instead")

// mapProvider adapts an in-memory map to koanf's Provider interface.
// The loader feeds struct defaults through it before any file or
// environment source is merged.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
