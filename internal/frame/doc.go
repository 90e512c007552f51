// Package frame defines the pixel buffer passed between scenes and drivers.
//
// A frame is the only artifact a render cycle produces: scenes draw into it,
// the scheduler gates it by generation, and the active driver pushes it to
// hardware. Keeping the type in its own package lets scene and driver code
// share it without depending on each other.
package frame
