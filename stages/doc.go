// Package stages holds reusable segments and sorters over image payloads:
// integer upscaling, alpha split and merge, size checks, and a runner for
// external programs.
//
// The image stages expect objects decoded with imaging.Codec, so their payload is
// an image.Image. None of them cache anything; wrap them with the checkpoint
// package to make them run once per object.
package stages
