// planarar overlays an image onto a checkerboard seen by a camera, and
// calibrates that camera from checkerboard photographs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
