package main

import "github.com/Norgate-AV/testcache/cmd"

func main() {
	cmd.Execute()
}
