package main

import "github.com/Donghyun-Son/srtgo/cmd"

func main() {
	cmd.Execute()
}
