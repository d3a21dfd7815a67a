package main

import "github.com/lamassuiot/pkictl/cmd"

func main() {
	cmd.Execute()
}
