package main

import "github.com/feedgate/gateway/cmd"

func main() {
	cmd.Execute()
}
