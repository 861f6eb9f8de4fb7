// Package kernel is a small navigation toolkit that reads NAIF kernel files:
// KPL text kernels and meta-kernels, SPK ephemerides (types 2, 3, 9, 13 and
// 18), CK pointing (types 2 and 3) with type 1 spacecraft clocks, binary
// PCK orientation, two-line element sets, leapseconds and planetary
// constants, and fixed offset frame definitions. It computes
// aberration-corrected states and frame orientations in J2000.
//
// A Pool is safe for concurrent readers. Loading and clearing take an
// exclusive lock.
package kernel
