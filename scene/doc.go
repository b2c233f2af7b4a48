// Package scene implements the layer tree of a display.
//
// A [Graph] owns layers addressed by opaque [Handle] values. Each layer
// carries independently defaulted attributes (position, scale, crop,
// buffer, color, alpha, visibility, z-order, transform, data space) that
// change only through [Mutation] values applied in validated batches.
//
// Composition is a deterministic CPU rendition: [Graph.Composite] draws
// every reachable layer in paint order with golang.org/x/image/draw, and
// [Graph.Visibility] reports the effective alpha and the unoccluded
// fraction of a layer.
//
// Paint order: siblings sort by z then attach order; children with
// negative z draw beneath their parent's own content; every layer is
// clipped to its ancestors' bounds.
package scene
