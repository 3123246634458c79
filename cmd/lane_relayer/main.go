package main

import "github.com/lanebridge/lane-relayer/cmd/lane_relayer/cmd"

func main() {
	cmd.Execute()
}
