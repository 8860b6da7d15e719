// Package fsio reads pipeline input from a directory tree and writes pipeline
// output to one, keeping the relative layout: a file at <in>/hud/icons/a.png
// becomes an object with location "hud/icons" and name "a", and is written back
// to <out>/hud/icons/a.png.
//
// Sweep is the post-order delete-unless-kept walk shared by the output purge
// and the checkpoint purge.
package fsio
