// Command hipsviewer is the runnable demo for the HiPS tile-caching
// and progressive-refinement engine.
package main

import "github.com/skyatlas/hipscore/internal/cmd"

func main() {
	cmd.Execute()
}
