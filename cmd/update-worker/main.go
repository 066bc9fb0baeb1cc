package main

import "github.com/oshokin/machine-updater/cmd/update-worker/cmd"

func main() {
	cmd.Execute()
}
