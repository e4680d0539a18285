package main

import "github.com/drgolem/streamsound/cmd"

func main() {
	cmd.Execute()
}
