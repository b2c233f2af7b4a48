package scene

import "errors"

// Argument errors returned synchronously by mutations and lookups.
var (
	ErrInvalidGeometry   = errors.New("scene: invalid geometry")
	ErrInvalidScale      = errors.New("scene: negative or non-finite scale")
	ErrInvalidAlpha      = errors.New("scene: alpha outside [0, 1]")
	ErrInvalidColor      = errors.New("scene: color component outside [0, 1]")
	ErrInvalidTransform  = errors.New("scene: invalid buffer transform")
	ErrInvalidDataSpace  = errors.New("scene: invalid data space")
	ErrInvalidBrightness = errors.New("scene: invalid extended range brightness")
	ErrUnsupportedFormat = errors.New("scene: unsupported pixel format")
	ErrUnknownLayer      = errors.New("scene: unknown or destroyed layer")
	ErrCycle             = errors.New("scene: reparent would create a cycle")
	ErrRootLayer         = errors.New("scene: operation not allowed on the root layer")
)
