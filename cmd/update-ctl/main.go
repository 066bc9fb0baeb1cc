package main

import "github.com/oshokin/machine-updater/cmd/update-ctl/cmd"

func main() {
	cmd.Execute()
}
