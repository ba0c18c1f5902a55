package main

import "civic-hazard-backend/cmd"

func main() {
	cmd.Run()
}
