package main

import "serve-chroot/cmd"

func main() {
	cmd.Execute()
}
