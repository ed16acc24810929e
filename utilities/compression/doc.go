// Package compression shrinks raw flash images for storage as snapshots.
//
// A flash image is the full contents of a bank, data and spare areas
// included. Erased flash reads as 0xff, and a player that's mostly empty is
// mostly erased blocks, so the images consist largely of long runs of the same
// byte. The images are run-length encoded first and the result is gzipped; a
// freshly formatted 32 MiB card goes from 36 MiB of raw sectors to a few
// kilobytes.
//
// The run-length encoding is RLE8, the scheme used by BMP files: if a byte B
// occurs N >= 2 times in a row, B is written twice followed by a byte holding
// N-2. Runs longer than 257 are split.
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
package compression
