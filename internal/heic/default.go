//go:build !libheif

package heic

func newDefault() (Converter, error) {
	return Unavailable{}, nil
}
