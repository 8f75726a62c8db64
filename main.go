// The main package for the cvpr-scrape2plot executable.
package main

import (
	"github.com/TontonTremblay/cvpr-scrape2plot/cmd"
)

func main() {
	cmd.Execute()
}
