package main

import "github.com/jmehdipour/inference-gateway/cmd"

func main() {
	cmd.Execute()
}
